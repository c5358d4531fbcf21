package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/apoplexi24/kuber-cron/internal/controller"
	"github.com/apoplexi24/kuber-cron/internal/domain"
	"github.com/apoplexi24/kuber-cron/internal/testutil"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path, time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testKey() domain.EntryKey {
	return domain.NewEntryKey("* * * * *", "/opt/job")
}

func TestMarkStarted_NewEntry(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	key := testKey()
	dueAt := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	startAt := dueAt.Add(2 * time.Second)

	record, err := s.MarkStarted(ctx, key, dueAt, startAt)
	if err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if !record.InFlight {
		t.Error("record should be in flight")
	}
	if !record.LastDueAt.Equal(dueAt) {
		t.Errorf("due at = %s, want %s", record.LastDueAt, dueAt)
	}
	if !record.InFlightSince.Equal(startAt) {
		t.Errorf("in flight since = %s, want %s", record.InFlightSince, startAt)
	}
}

func TestMarkStarted_GuardsOverlap(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	key := testKey()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	if _, err := s.MarkStarted(ctx, key, now, now); err != nil {
		t.Fatalf("first MarkStarted: %v", err)
	}

	_, err := s.MarkStarted(ctx, key, now.Add(time.Minute), now.Add(time.Minute))
	if !errors.Is(err, controller.ErrAlreadyRunning) {
		t.Fatalf("second MarkStarted = %v, want ErrAlreadyRunning", err)
	}
}

func TestMarkFinished_ClearsInFlight(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	key := testKey()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	if _, err := s.MarkStarted(ctx, key, now, now); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}

	outcome := domain.RunOutcome{
		EntryKey:   key,
		Status:     domain.RunStatusFailure,
		ExitCode:   3,
		FinishedAt: now.Add(5 * time.Second),
	}
	if err := s.MarkFinished(ctx, key, outcome, 4); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}

	record, err := s.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.InFlight {
		t.Error("record should no longer be in flight")
	}
	if record.LastStatus != domain.RunStatusFailure {
		t.Errorf("status = %s, want failure", record.LastStatus)
	}
	if record.LastExitCode != 3 {
		t.Errorf("exit code = %d, want 3", record.LastExitCode)
	}
	if record.ConsecutiveFailures != 4 {
		t.Errorf("consecutive failures = %d, want 4", record.ConsecutiveFailures)
	}
	if !record.InFlightSince.IsZero() {
		t.Error("in flight since should reset to zero time")
	}

	// The slot can be claimed again now.
	if _, err := s.MarkStarted(ctx, key, now.Add(time.Minute), now.Add(time.Minute)); err != nil {
		t.Errorf("MarkStarted after finish: %v", err)
	}
}

func TestState_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := testutil.TestContext(t)
	key := testKey()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	s, err := Open(path, time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.MarkStarted(ctx, key, now, now); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	record, err := reopened.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("GetRecord after reopen: %v", err)
	}
	if !record.InFlight {
		t.Error("in-flight flag must survive a restart — recovery depends on it")
	}
}

func TestRecoverInFlight(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	interrupted := testKey()
	clean := domain.NewEntryKey("0 0 * * *", "/opt/other")
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	if _, err := s.MarkStarted(ctx, interrupted, now, now); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if _, err := s.MarkStarted(ctx, clean, now, now); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	finished := domain.RunOutcome{EntryKey: clean, Status: domain.RunStatusSuccess, FinishedAt: now.Add(time.Second)}
	if err := s.MarkFinished(ctx, clean, finished, 0); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}

	endedAt := now.Add(time.Hour)
	records, err := s.RecoverInFlight(ctx, endedAt)
	if err != nil {
		t.Fatalf("RecoverInFlight: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("recovered = %d, want 1", len(records))
	}
	if records[0].EntryKey != interrupted {
		t.Errorf("recovered key = %s, want %s", records[0].EntryKey, interrupted)
	}
	if !records[0].InFlight {
		t.Error("returned record should show the pre-reset in-flight state")
	}

	after, err := s.GetRecord(ctx, interrupted)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if after.InFlight {
		t.Error("record should no longer be in flight")
	}
	if after.LastStatus != domain.RunStatusKilled {
		t.Errorf("status = %s, want killed", after.LastStatus)
	}
	if !after.LastEndAt.Equal(endedAt) {
		t.Errorf("end at = %s, want %s", after.LastEndAt, endedAt)
	}

	// Idempotent: nothing left to recover.
	again, err := s.RecoverInFlight(ctx, endedAt)
	if err != nil {
		t.Fatalf("second RecoverInFlight: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pass recovered = %d, want 0", len(again))
	}
}

func TestAttemptHistory(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	key := testKey()
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		attempt := domain.RunAttempt{
			ID:         uuid.New(),
			EntryKey:   key,
			Attempt:    i + 1,
			Status:     domain.RunStatusFailure,
			ExitCode:   1,
			Error:      "exit status 1",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := s.InsertAttempt(ctx, attempt); err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
	}

	attempts, err := s.ListAttempts(ctx, key, 2)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want limit of 2", len(attempts))
	}
	if attempts[0].Attempt != 3 {
		t.Errorf("first attempt = %d, want most recent (3)", attempts[0].Attempt)
	}
	if attempts[0].Status != domain.RunStatusFailure {
		t.Errorf("status = %s, want failure", attempts[0].Status)
	}

	pruned, err := s.PruneAttempts(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("PruneAttempts: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
}

func TestGetRecord_Missing(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)

	_, err := s.GetRecord(ctx, testKey())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetRecord = %v, want sql.ErrNoRows", err)
	}
}

func TestListRecords(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := testutil.TestContext(t)
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	keys := []domain.EntryKey{
		domain.NewEntryKey("* * * * *", "/opt/a"),
		domain.NewEntryKey("* * * * *", "/opt/b"),
	}
	for _, key := range keys {
		if _, err := s.MarkStarted(ctx, key, now, now); err != nil {
			t.Fatalf("MarkStarted: %v", err)
		}
	}

	records, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}
