// Package channel provides the in-memory due-event bus between the poll
// loop / recovery coordinator and the retry controller.
package channel

import (
	"context"
	"errors"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// ErrBufferFull is returned when the bus cannot accept an event without
// blocking. Emitters treat this as a dropped tick, not a fatal error.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink records bus observations.
type MetricsSink interface {
	EmitError()
}

// EventBus carries DueEvents over a buffered channel.
type EventBus struct {
	ch      chan domain.DueEvent
	metrics MetricsSink // optional, nil = disabled
}

// NewEventBus creates a bus with the given buffer capacity.
func NewEventBus(buffer int) *EventBus {
	return &EventBus{
		ch: make(chan domain.DueEvent, buffer),
	}
}

// WithMetrics attaches a metrics sink to the bus.
func (b *EventBus) WithMetrics(sink MetricsSink) *EventBus {
	b.metrics = sink
	return b
}

// Emit enqueues an event. It never blocks on a full buffer: the poll
// loop must not stall behind slow consumers, so a full buffer is
// reported as ErrBufferFull and counted.
func (b *EventBus) Emit(ctx context.Context, event domain.DueEvent) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel exposes the receive side for the controller.
func (b *EventBus) Channel() <-chan domain.DueEvent {
	return b.ch
}
