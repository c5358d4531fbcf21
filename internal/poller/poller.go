// Package poller drives the fixed-interval scheduling loop. Each wake it
// asks the schedule table for due entries and emits one due event per
// match; execution happens entirely off the loop's critical path.
package poller

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Tables answers which entries are due at a given instant.
type Tables interface {
	Due(at time.Time) []domain.Entry
}

// EventEmitter defines the interface for emitting due events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.DueEvent) error
}

// MetricsSink defines the interface for recording poll loop metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, due int, err error)
	TickDrift(drift time.Duration)
}

// Config holds poll loop configuration.
type Config struct {
	TickInterval time.Duration
}

// Poller wakes on a fixed interval and dispatches due entries.
type Poller struct {
	config  Config
	tables  Tables
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	lastTick   time.Time
	lastMinute time.Time
}

// New creates a poller.
func New(config Config, tables Tables, emitter EventEmitter) *Poller {
	return &Poller{
		config:  config,
		tables:  tables,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the poller.
func (p *Poller) WithMetrics(sink MetricsSink) *Poller {
	p.metrics = sink
	return p
}

// Run blocks until ctx is cancelled. Per-entry errors never abort the
// loop; failure isolation is per entry.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	log.Printf("poller: started, tick=%s", p.config.TickInterval)
	p.lastTick = p.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("poller: stopped")
			return ctx.Err()
		case <-ticker.C:
			p.processTick(ctx)
		}
	}
}

// Tick evaluates one poll instant. Exposed for the serve loop's initial
// evaluation and for tests; Run calls it on every ticker wake.
func (p *Poller) Tick(ctx context.Context) {
	p.processTick(ctx)
}

func (p *Poller) processTick(ctx context.Context) {
	start := p.clock().UTC()

	if p.metrics != nil {
		p.metrics.TickStarted()
		if !p.lastTick.IsZero() {
			p.metrics.TickDrift(start.Sub(p.lastTick) - p.config.TickInterval)
		}
	}
	p.lastTick = start

	minute := start.Truncate(time.Minute)
	if !minute.After(p.lastMinute) {
		// Same minute already evaluated; a sub-minute tick interval must
		// not fire entries twice per slot.
		if p.metrics != nil {
			p.metrics.TickCompleted(p.clock().UTC().Sub(start), 0, nil)
		}
		return
	}
	p.lastMinute = minute

	due := p.tables.Due(start)

	var firstErr error
	for _, entry := range due {
		event := domain.DueEvent{
			ID:       uuid.New(),
			EntryKey: entry.Key,
			DueAt:    minute,
			FiredAt:  start,
			Reason:   domain.DueReasonSchedule,
		}
		if err := p.emitter.Emit(ctx, event); err != nil {
			log.Printf("poller: entry=%s line=%d emit: %v", entry.Key, entry.Line, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Printf("poller: entry=%s line=%d due=%s emitted", entry.Key, entry.Line, minute.Format(time.RFC3339))
	}

	if p.metrics != nil {
		p.metrics.TickCompleted(p.clock().UTC().Sub(start), len(due), firstErr)
	}
}
