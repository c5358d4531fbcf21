// Package controller owns retry and overlap policy. It consumes due
// events, admits at most one concurrent attempt per entry, and performs
// bounded immediate retries within the same due slot so a transient
// failure does not silently skip a whole scheduling period.
package controller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Delays before retry attempts 2, 3, 4... within one due slot.
// Deliberately short: the whole retry burst must fit inside a
// scheduling period.
var defaultBackoff = []time.Duration{
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// DefaultDrainGrace is how long in-flight tasks get to finish during
// shutdown before their processes are terminated.
const DefaultDrainGrace = 30 * time.Second

// ErrAlreadyRunning is returned by Store.MarkStarted when the entry
// already has an in-flight attempt. The due slot is skipped, not failed.
var ErrAlreadyRunning = errors.New("entry already in flight")

// Store is the durable execution state the controller updates around
// each run.
type Store interface {
	// MarkStarted atomically sets the in-flight flag and returns the
	// record as of the start of this run. Implementations MUST return
	// ErrAlreadyRunning when the flag is already set.
	MarkStarted(ctx context.Context, key domain.EntryKey, dueAt, startAt time.Time) (domain.ExecutionRecord, error)
	// MarkFinished clears the in-flight flag and records the outcome.
	MarkFinished(ctx context.Context, key domain.EntryKey, outcome domain.RunOutcome, consecutiveFailures int) error
	InsertAttempt(ctx context.Context, attempt domain.RunAttempt) error
}

// Runner executes a single task attempt.
type Runner interface {
	Run(ctx context.Context, entry domain.Entry, attempt int) domain.RunOutcome
}

// Tables resolves an event's entry against the current schedule table.
type Tables interface {
	Lookup(key domain.EntryKey) (domain.Entry, bool)
}

// MetricsSink defines the interface for recording controller metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TaskSucceeded()
	TaskFailed(status string)
	TaskRetried()
	OverlapSkipped()
	RunDuration(d time.Duration)
	TasksInFlightIncr()
	TasksInFlightDecr()
}

// AnalyticsSink records per-entry outcomes as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, key domain.EntryKey, status domain.RunStatus, at time.Time)
}

// Controller drives the per-entry run state machine.
type Controller struct {
	store     Store
	runner    Runner
	tables    Tables
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled

	backoff    []time.Duration
	drainGrace time.Duration
	states     *runStates
	clock      func() time.Time
}

// New creates a controller.
func New(store Store, runner Runner, tables Tables) *Controller {
	return &Controller{
		store:      store,
		runner:     runner,
		tables:     tables,
		backoff:    defaultBackoff,
		drainGrace: DefaultDrainGrace,
		states:     newRunStates(),
		clock:      time.Now,
	}
}

// WithMetrics attaches a metrics sink to the controller.
func (c *Controller) WithMetrics(sink MetricsSink) *Controller {
	c.metrics = sink
	return c
}

// WithAnalytics attaches an analytics sink to the controller.
func (c *Controller) WithAnalytics(sink AnalyticsSink) *Controller {
	c.analytics = sink
	return c
}

// WithBackoff overrides the retry delay schedule.
func (c *Controller) WithBackoff(delays []time.Duration) *Controller {
	if len(delays) > 0 {
		c.backoff = delays
	}
	return c
}

// WithDrainGrace overrides the shutdown grace period.
func (c *Controller) WithDrainGrace(d time.Duration) *Controller {
	c.drainGrace = d
	return c
}

// Run consumes events from the channel until ctx is cancelled, handling
// each in its own goroutine so a long-running task never delays other
// entries. After cancellation it stops accepting new events and gives
// in-flight tasks a bounded grace period before terminating them.
func (c *Controller) Run(ctx context.Context, ch <-chan domain.DueEvent) {
	// Tasks outlive the loop context during the grace period, so they
	// run under their own cancellation scope.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			c.waitInFlight(&wg, cancelTasks)
			return
		case event := <-ch:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Handle(taskCtx, event)
			}()
		}
	}
}

// waitInFlight blocks until running tasks resolve, terminating them when
// the grace period expires. Records of tasks still unresolved at exit
// keep in_flight=true durably, which is exactly what the next startup's
// recovery pass looks for.
func (c *Controller) waitInFlight(wg *sync.WaitGroup, cancelTasks context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.drainGrace)
	defer timer.Stop()

	select {
	case <-done:
		log.Println("controller: stopped, all tasks resolved")
	case <-timer.C:
		log.Printf("controller: drain grace %s expired, terminating in-flight tasks", c.drainGrace)
		cancelTasks()
		<-done
		log.Println("controller: stopped")
	}
}

// Handle processes one due event end to end: admission, the attempt
// loop, and the final record update.
func (c *Controller) Handle(ctx context.Context, event domain.DueEvent) {
	entry, ok := c.tables.Lookup(event.EntryKey)
	if !ok {
		// Catch-up events can reference entries removed by a reload.
		log.Printf("controller: entry=%s no longer in table, dropping %s event", event.EntryKey, event.Reason)
		return
	}
	if !entry.Enabled {
		return
	}

	if !c.states.begin(entry.Key) {
		c.skipOverlap(entry, event)
		return
	}
	defer c.states.end(entry.Key)

	record, err := c.store.MarkStarted(ctx, entry.Key, event.DueAt, c.clock().UTC())
	if errors.Is(err, ErrAlreadyRunning) {
		c.skipOverlap(entry, event)
		return
	}
	if err != nil {
		log.Printf("controller: entry=%s mark started: %v", entry.Key, err)
		return
	}

	if c.metrics != nil {
		c.metrics.TasksInFlightIncr()
		defer c.metrics.TasksInFlightDecr()
	}

	c.runSlot(ctx, entry, event, record.ConsecutiveFailures)
}

// runSlot performs the bounded immediate-retry loop for one due slot.
// failures carries the consecutive-failure count persisted before this
// slot; it resets on success and grows by one per failed attempt.
func (c *Controller) runSlot(ctx context.Context, entry domain.Entry, event domain.DueEvent, failures int) {
	for attempt := 1; ; attempt++ {
		outcome := c.runner.Run(ctx, entry, attempt)
		if c.metrics != nil {
			c.metrics.RunDuration(outcome.FinishedAt.Sub(outcome.StartedAt))
		}
		c.recordAttempt(ctx, outcome)

		switch outcome.Status {
		case domain.RunStatusSuccess:
			if c.metrics != nil {
				c.metrics.TaskSucceeded()
			}
			c.observe(ctx, entry.Key, outcome)
			c.finish(ctx, entry.Key, outcome, 0)
			log.Printf("controller: entry=%s line=%d completed attempt=%d reason=%s", entry.Key, entry.Line, attempt, event.Reason)
			return

		case domain.RunStatusKilled:
			// Shutdown, not a task failure: no retry, counter untouched.
			c.observe(ctx, entry.Key, outcome)
			c.finish(ctx, entry.Key, outcome, failures)
			log.Printf("controller: entry=%s line=%d killed attempt=%d", entry.Key, entry.Line, attempt)
			return
		}

		failures++
		if c.metrics != nil {
			c.metrics.TaskFailed(string(outcome.Status))
		}
		c.observe(ctx, entry.Key, outcome)
		log.Printf("controller: entry=%s line=%d attempt=%d status=%s exit=%d failures=%d",
			entry.Key, entry.Line, attempt, outcome.Status, outcome.ExitCode, failures)

		if attempt > entry.MaxRetries {
			log.Printf("controller: entry=%s line=%d abandoned for this slot after %d attempts", entry.Key, entry.Line, attempt)
			c.finish(ctx, entry.Key, outcome, failures)
			return
		}

		if c.metrics != nil {
			c.metrics.TaskRetried()
		}
		if !c.waitBackoff(ctx, attempt) {
			// Shutdown during backoff; the last failed outcome stands.
			c.finish(ctx, entry.Key, outcome, failures)
			return
		}
	}
}

// waitBackoff sleeps before the next retry. Returns false when ctx was
// cancelled during the wait.
func (c *Controller) waitBackoff(ctx context.Context, attempt int) bool {
	idx := attempt - 1
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}

	timer := time.NewTimer(c.backoff[idx])
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Controller) skipOverlap(entry domain.Entry, event domain.DueEvent) {
	if c.metrics != nil {
		c.metrics.OverlapSkipped()
	}
	log.Printf("controller: entry=%s line=%d due=%s skipped, previous run still in flight",
		entry.Key, entry.Line, event.DueAt.Format(time.RFC3339))
}

func (c *Controller) recordAttempt(ctx context.Context, outcome domain.RunOutcome) {
	attempt := domain.RunAttempt{
		ID:         uuid.New(),
		EntryKey:   outcome.EntryKey,
		Attempt:    outcome.Attempt,
		Status:     outcome.Status,
		ExitCode:   outcome.ExitCode,
		Error:      outcome.Error,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
	}
	if err := c.store.InsertAttempt(ctx, attempt); err != nil {
		log.Printf("controller: failed to record attempt: %v", err)
	}
}

func (c *Controller) finish(ctx context.Context, key domain.EntryKey, outcome domain.RunOutcome, failures int) {
	if err := c.store.MarkFinished(ctx, key, outcome, failures); err != nil {
		log.Printf("controller: entry=%s mark finished: %v", key, err)
	}
}

// observe records the outcome to analytics. Best-effort: the sink
// handles its own errors and never affects execution.
func (c *Controller) observe(ctx context.Context, key domain.EntryKey, outcome domain.RunOutcome) {
	if c.analytics == nil {
		return
	}
	c.analytics.Record(ctx, key, outcome.Status, outcome.FinishedAt)
}
