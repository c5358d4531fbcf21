// Package postgres implements the execution state store on PostgreSQL.
// It is the driver for deployments that already run a database and want
// the daemon's state to survive the node, not just the process.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/apoplexi24/kuber-cron/internal/controller"
	"github.com/apoplexi24/kuber-cron/internal/domain"
	"github.com/apoplexi24/kuber-cron/internal/recovery"
)

// Store implements controller.Store and recovery.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// Open connects to the database at url and ensures the schema exists.
func Open(url string, maxConns int, opTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, opTimeout: opTimeout}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, querySchema)
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
// flag set cannot race across daemon replicas sharing a database.
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

	row := s.db.QueryRowContext(ctx, queryGetRecord, string(key))
	return scanRecord(row)
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

	row := s.db.QueryRowContext(ctx, queryGetRecord, string(key))
	return scanRecord(row)
}

// ListRecords returns all execution records.
func (s *Store) ListRecords(ctx context.Context) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRecords)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// RecoverInFlight marks every in-flight record killed and returns the
// records as they were before the reset. The select and update share a
// transaction; FOR UPDATE keeps a concurrent claim from slipping between
// them.
func (s *Store) RecoverInFlight(ctx context.Context, endedAt time.Time) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, queryListInFlight)
	if err != nil {
		return nil, err
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, queryRecoverInFlight,
		string(domain.RunStatusKilled), toNanos(endedAt), toNanos(endedAt))
	if err != nil {
		return nil, err
	}
	return records, tx.Commit()
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

func collectRecords(rows *sql.Rows) ([]domain.ExecutionRecord, error) {
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
		inFlightSince, updatedAt int64
	)
	err := row.Scan(&key, &dueAt, &startAt, &endAt, &status,
		&r.LastExitCode, &r.ConsecutiveFailures, &r.InFlight, &inFlightSince, &updatedAt)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	r.EntryKey = domain.EntryKey(key)
	r.LastStatus = domain.RunStatus(status)
	r.LastDueAt = fromNanos(dueAt)
	r.LastStartAt = fromNanos(startAt)
	r.LastEndAt = fromNanos(endAt)
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
