// Package sqlite implements the execution state store on an embedded
// SQLite database. It is the default driver: a single-node daemon gets
// crash-safe state from one WAL-mode file with no external service.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/apoplexi24/kuber-cron/internal/controller"
	"github.com/apoplexi24/kuber-cron/internal/domain"
	"github.com/apoplexi24/kuber-cron/internal/recovery"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store implements controller.Store and recovery.Store using SQLite.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// Open opens (creating if needed) the state database at path.
func Open(path string, busyTimeout, opTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, opTimeout: opTimeout}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Ping checks the durability medium. A failing ping at startup is fatal
// to the daemon.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// MarkStarted atomically claims the entry for one run.
// Returns controller.ErrAlreadyRunning if the entry is already in flight;
// the guard lives in the UPDATE's WHERE clause, so the check and the
// flag set cannot race.
func (s *Store) MarkStarted(ctx context.Context, key domain.EntryKey, dueAt, startAt time.Time) (domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := toNanos(startAt)
	if _, err := s.db.ExecContext(ctx, queryEnsureRecord, string(key), now); err != nil {
		return domain.ExecutionRecord{}, err
	}

	result, err := s.db.ExecContext(ctx, queryMarkStarted,
		now, toNanos(dueAt), now, now, string(key))
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	if affected == 0 {
		return domain.ExecutionRecord{}, controller.ErrAlreadyRunning
	}

	return s.getRecord(ctx, key)
}

// MarkFinished clears the in-flight flag and records the outcome.
func (s *Store) MarkFinished(ctx context.Context, key domain.EntryKey, outcome domain.RunOutcome, consecutiveFailures int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryMarkFinished,
		toNanos(outcome.FinishedAt),
		string(outcome.Status),
		outcome.ExitCode,
		consecutiveFailures,
		toNanos(outcome.FinishedAt),
		string(key),
	)
	return err
}

// InsertAttempt appends one row to the attempt history.
func (s *Store) InsertAttempt(ctx context.Context, attempt domain.RunAttempt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertAttempt,
		attempt.ID.String(),
		string(attempt.EntryKey),
		attempt.Attempt,
		string(attempt.Status),
		attempt.ExitCode,
		attempt.Error,
		toNanos(attempt.StartedAt),
		toNanos(attempt.FinishedAt),
	)
	return err
}

// GetRecord returns the record for key, or sql.ErrNoRows.
func (s *Store) GetRecord(ctx context.Context, key domain.EntryKey) (domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.getRecord(ctx, key)
}

func (s *Store) getRecord(ctx context.Context, key domain.EntryKey) (domain.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetRecord, string(key))
	return scanRecord(row)
}

// ListRecords returns all execution records.
func (s *Store) ListRecords(ctx context.Context) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.queryRecords(ctx, queryListRecords)
}

// RecoverInFlight marks every in-flight record killed and returns the
// records as they were before the reset.
func (s *Store) RecoverInFlight(ctx context.Context, endedAt time.Time) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	records, err := s.queryRecords(ctx, queryListInFlight)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, queryRecoverInFlight,
		string(domain.RunStatusKilled), toNanos(endedAt), toNanos(endedAt))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListAttempts returns the most recent attempts for an entry.
func (s *Store) ListAttempts(ctx context.Context, key domain.EntryKey, limit int) ([]domain.RunAttempt, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAttempts, string(key), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RunAttempt
	for rows.Next() {
		var (
			a                    domain.RunAttempt
			id, entryKey, status string
			started, finished    int64
		)
		if err := rows.Scan(&id, &entryKey, &a.Attempt, &status, &a.ExitCode, &a.Error, &started, &finished); err != nil {
			return nil, err
		}
		if err := a.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, err
		}
		a.EntryKey = domain.EntryKey(entryKey)
		a.Status = domain.RunStatus(status)
		a.StartedAt = fromNanos(started)
		a.FinishedAt = fromNanos(finished)
		result = append(result, a)
	}
	return result, rows.Err()
}

// PruneAttempts deletes attempt history older than the cutoff.
func (s *Store) PruneAttempts(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryPruneAttempts, toNanos(olderThan))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) queryRecords(ctx context.Context, query string) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.ExecutionRecord, error) {
	var (
		r                        domain.ExecutionRecord
		key, status              string
		dueAt, startAt, endAt    int64
		inFlight                 int
		inFlightSince, updatedAt int64
	)
	err := row.Scan(&key, &dueAt, &startAt, &endAt, &status,
		&r.LastExitCode, &r.ConsecutiveFailures, &inFlight, &inFlightSince, &updatedAt)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	r.EntryKey = domain.EntryKey(key)
	r.LastStatus = domain.RunStatus(status)
	r.LastDueAt = fromNanos(dueAt)
	r.LastStartAt = fromNanos(startAt)
	r.LastEndAt = fromNanos(endAt)
	r.InFlight = inFlight != 0
	r.InFlightSince = fromNanos(inFlightSince)
	r.UpdatedAt = fromNanos(updatedAt)
	return r, nil
}

// Timestamps are stored as Unix nanoseconds; zero time maps to 0 so the
// schema needs no NULLs.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Compile-time interface assertions
var (
	_ controller.Store = (*Store)(nil)
	_ recovery.Store   = (*Store)(nil)
)
