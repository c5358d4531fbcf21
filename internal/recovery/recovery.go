// Package recovery reconciles execution state once at daemon startup.
//
// A record still flagged in-flight means the prior process crashed (or
// was killed) mid-execution: the attempt is marked killed and the entry
// gets one immediate catch-up run. An entry whose next fire time after
// its last completed run is older than one poll interval was missed
// while the daemon was down: it gets exactly one catch-up run, never one
// per missed slot, so a long outage cannot trigger a backlog storm.
package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Store defines the execution-state reads and the in-flight reset the
// coordinator needs.
type Store interface {
	// RecoverInFlight flips every in-flight record to status killed with
	// the given end time and returns the affected records.
	RecoverInFlight(ctx context.Context, endedAt time.Time) ([]domain.ExecutionRecord, error)
	ListRecords(ctx context.Context) ([]domain.ExecutionRecord, error)
}

// EventEmitter defines the interface for emitting catch-up events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.DueEvent) error
}

// Tables is the current schedule table.
type Tables interface {
	Lookup(key domain.EntryKey) (domain.Entry, bool)
	Entries() []domain.Entry
}

// MetricsSink records recovery observations.
type MetricsSink interface {
	TaskRecovered(reason string)
}

// Config holds coordinator configuration.
type Config struct {
	// PollInterval is the daemon's tick interval; an entry is missed
	// when its next due time is older than now minus this.
	PollInterval time.Duration
}

// Coordinator runs the startup reconciliation pass.
type Coordinator struct {
	config  Config
	store   Store
	tables  Tables
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a Coordinator.
func New(config Config, store Store, tables Tables, emitter EventEmitter) *Coordinator {
	return &Coordinator{
		config:  config,
		store:   store,
		tables:  tables,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the coordinator.
func (c *Coordinator) WithMetrics(sink MetricsSink) *Coordinator {
	c.metrics = sink
	return c
}

// Run executes the reconciliation pass. It must complete before the
// first poll tick. A store error here is returned to the caller: the
// daemon cannot guarantee recovery correctness without its state.
func (c *Coordinator) Run(ctx context.Context) error {
	now := c.clock().UTC()
	caughtUp := make(map[domain.EntryKey]bool)

	killed, err := c.store.RecoverInFlight(ctx, now)
	if err != nil {
		return fmt.Errorf("recover in-flight records: %w", err)
	}

	for _, record := range killed {
		log.Printf("recovery: entry=%s was in flight since %s at last exit, marked killed",
			record.EntryKey, record.InFlightSince.Format(time.RFC3339))

		if !c.emitCatchUp(ctx, record.EntryKey, now, domain.DueReasonCrash) {
			continue
		}
		caughtUp[record.EntryKey] = true
	}

	records, err := c.store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	byKey := make(map[domain.EntryKey]domain.ExecutionRecord, len(records))
	for _, record := range records {
		byKey[record.EntryKey] = record
	}

	cutoff := now.Add(-c.config.PollInterval)
	for _, entry := range c.tables.Entries() {
		if caughtUp[entry.Key] {
			continue
		}
		record, ok := byKey[entry.Key]
		if !ok || record.LastEndAt.IsZero() {
			// Never completed a run; its first natural due time is fine.
			continue
		}

		next := entry.Schedule.Next(record.LastEndAt)
		if !next.Before(cutoff) {
			continue
		}

		log.Printf("recovery: entry=%s line=%d missed due slot(s) since %s, scheduling one catch-up run",
			entry.Key, entry.Line, next.Format(time.RFC3339))
		c.emitCatchUp(ctx, entry.Key, now, domain.DueReasonMissed)
	}

	return nil
}

// emitCatchUp emits one catch-up event for the entry. Entries no longer
// present in the table are dropped; their stale records are harmless.
func (c *Coordinator) emitCatchUp(ctx context.Context, key domain.EntryKey, now time.Time, reason domain.DueReason) bool {
	if _, ok := c.tables.Lookup(key); !ok {
		log.Printf("recovery: entry=%s no longer in table, dropping %s catch-up", key, reason)
		return false
	}

	event := domain.DueEvent{
		ID:       uuid.New(),
		EntryKey: key,
		DueAt:    now.Truncate(time.Minute),
		FiredAt:  now,
		Reason:   reason,
	}

	if err := c.emitter.Emit(ctx, event); err != nil {
		log.Printf("recovery: failed to emit %s catch-up for entry=%s: %v", reason, key, err)
		return false
	}

	if c.metrics != nil {
		c.metrics.TaskRecovered(string(reason))
	}
	log.Printf("recovery: emitted %s catch-up for entry=%s", reason, key)
	return true
}
