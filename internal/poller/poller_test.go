package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/apoplexi24/kuber-cron/internal/domain"
	"github.com/apoplexi24/kuber-cron/internal/testutil"
)

// mockTables serves a fixed entry set through Due.
type mockTables struct {
	entries []domain.Entry
}

func (t *mockTables) Due(at time.Time) []domain.Entry {
	minute := at.Truncate(time.Minute)
	prev := minute.Add(-time.Second)

	var due []domain.Entry
	for _, e := range t.entries {
		if e.Schedule.Next(prev).Equal(minute) {
			due = append(due, e)
		}
	}
	return due
}

// mockEmitter collects emitted events.
type mockEmitter struct {
	events  []domain.DueEvent
	emitErr error
}

func (e *mockEmitter) Emit(ctx context.Context, event domain.DueEvent) error {
	if e.emitErr != nil {
		return e.emitErr
	}
	e.events = append(e.events, event)
	return nil
}

type tickRecord struct {
	due int
	err error
}

type mockMetrics struct {
	started   int
	completed []tickRecord
	drifts    []time.Duration
}

func (m *mockMetrics) TickStarted() { m.started++ }

func (m *mockMetrics) TickCompleted(duration time.Duration, due int, err error) {
	m.completed = append(m.completed, tickRecord{due: due, err: err})
}

func (m *mockMetrics) TickDrift(drift time.Duration) {
	m.drifts = append(m.drifts, drift)
}

func pollerEntry(t *testing.T, spec string) domain.Entry {
	t.Helper()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		t.Fatalf("parse %q: %v", spec, err)
	}
	return domain.Entry{
		Key:      domain.NewEntryKey(spec, "/opt/job"),
		Spec:     spec,
		Command:  "/opt/job",
		Enabled:  true,
		Schedule: sched,
	}
}

func testPoller(tables Tables, emitter EventEmitter, clock *testutil.FakeClock) (*Poller, *mockMetrics) {
	sink := &mockMetrics{}
	p := New(Config{TickInterval: time.Minute}, tables, emitter).WithMetrics(sink)
	p.clock = clock.Now
	return p, sink
}

func TestTick_EmitsDueEntries(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 10, 9, 5, 2, 0, time.UTC))
	tables := &mockTables{entries: []domain.Entry{
		pollerEntry(t, "*/5 * * * *"),
		pollerEntry(t, "0 0 * * *"),
	}}
	emitter := &mockEmitter{}
	p, sink := testPoller(tables, emitter, clock)

	p.Tick(testutil.TestContext(t))

	if len(emitter.events) != 1 {
		t.Fatalf("events = %d, want 1", len(emitter.events))
	}
	ev := emitter.events[0]
	if ev.Reason != domain.DueReasonSchedule {
		t.Errorf("reason = %s, want schedule", ev.Reason)
	}
	wantDue := time.Date(2025, 6, 10, 9, 5, 0, 0, time.UTC)
	if !ev.DueAt.Equal(wantDue) {
		t.Errorf("due at = %s, want minute truncation %s", ev.DueAt, wantDue)
	}
	if sink.started != 1 {
		t.Errorf("ticks started = %d, want 1", sink.started)
	}
	if len(sink.completed) != 1 || sink.completed[0].due != 1 {
		t.Errorf("tick completion = %+v, want one tick with due=1", sink.completed)
	}
}

func TestTick_SameMinuteEvaluatedOnce(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 10, 9, 5, 0, 0, time.UTC))
	tables := &mockTables{entries: []domain.Entry{pollerEntry(t, "* * * * *")}}
	emitter := &mockEmitter{}
	p, _ := testPoller(tables, emitter, clock)

	ctx := testutil.TestContext(t)
	p.Tick(ctx)
	clock.Advance(10 * time.Second) // still 9:05
	p.Tick(ctx)

	if len(emitter.events) != 1 {
		t.Errorf("events = %d, want 1: a minute must never fire twice", len(emitter.events))
	}

	clock.Advance(50 * time.Second) // now 9:06
	p.Tick(ctx)
	if len(emitter.events) != 2 {
		t.Errorf("events = %d, want 2 after crossing the minute boundary", len(emitter.events))
	}
}

func TestTick_EmitErrorIsolatedPerEntry(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 10, 9, 5, 0, 0, time.UTC))
	tables := &mockTables{entries: []domain.Entry{
		pollerEntry(t, "* * * * *"),
		pollerEntry(t, "5 9 * * *"),
	}}
	emitter := &mockEmitter{emitErr: errors.New("bus full")}
	p, sink := testPoller(tables, emitter, clock)

	p.Tick(testutil.TestContext(t))

	if len(sink.completed) != 1 {
		t.Fatalf("tick completions = %d, want 1", len(sink.completed))
	}
	if sink.completed[0].due != 2 {
		t.Errorf("due = %d, want both entries counted despite emit errors", sink.completed[0].due)
	}
	if sink.completed[0].err == nil {
		t.Error("tick completion should carry the first emit error")
	}
}

func TestTick_NothingDue(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 10, 9, 7, 0, 0, time.UTC))
	tables := &mockTables{entries: []domain.Entry{pollerEntry(t, "*/5 * * * *")}}
	emitter := &mockEmitter{}
	p, sink := testPoller(tables, emitter, clock)

	p.Tick(testutil.TestContext(t))

	if len(emitter.events) != 0 {
		t.Errorf("events = %d, want none at 9:07 for */5", len(emitter.events))
	}
	if len(sink.completed) != 1 || sink.completed[0].due != 0 {
		t.Errorf("tick completion = %+v, want due=0", sink.completed)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
	p, _ := testPoller(&mockTables{}, &mockEmitter{}, clock)
	p.config.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
