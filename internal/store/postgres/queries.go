package postgres

const querySchema = `
CREATE TABLE IF NOT EXISTS execution_records (
    entry_key            TEXT PRIMARY KEY,
    last_due_at          BIGINT NOT NULL DEFAULT 0,
    last_start_at        BIGINT NOT NULL DEFAULT 0,
    last_end_at          BIGINT NOT NULL DEFAULT 0,
    last_status          TEXT   NOT NULL DEFAULT '',
    last_exit_code       INT    NOT NULL DEFAULT 0,
    consecutive_failures INT    NOT NULL DEFAULT 0,
    in_flight            BOOLEAN NOT NULL DEFAULT FALSE,
    in_flight_since      BIGINT NOT NULL DEFAULT 0,
    updated_at           BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_attempts (
    id          UUID PRIMARY KEY,
    entry_key   TEXT   NOT NULL,
    attempt     INT    NOT NULL,
    status      TEXT   NOT NULL,
    exit_code   INT    NOT NULL DEFAULT 0,
    error       TEXT   NOT NULL DEFAULT '',
    started_at  BIGINT NOT NULL,
    finished_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_attempts_entry
    ON run_attempts (entry_key, started_at);
`

const queryEnsureRecord = `
INSERT INTO execution_records (entry_key, updated_at)
VALUES ($1, $2)
ON CONFLICT (entry_key) DO NOTHING
`

const queryMarkStarted = `
UPDATE execution_records
SET in_flight = TRUE, in_flight_since = $1, last_due_at = $2, last_start_at = $3, updated_at = $4
WHERE entry_key = $5
  AND in_flight = FALSE
`

const queryMarkFinished = `
UPDATE execution_records
SET in_flight = FALSE, in_flight_since = 0, last_end_at = $1, last_status = $2,
    last_exit_code = $3, consecutive_failures = $4, updated_at = $5
WHERE entry_key = $6
`

const queryGetRecord = `
SELECT entry_key, last_due_at, last_start_at, last_end_at, last_status,
       last_exit_code, consecutive_failures, in_flight, in_flight_since, updated_at
FROM execution_records
WHERE entry_key = $1
`

const queryListRecords = `
SELECT entry_key, last_due_at, last_start_at, last_end_at, last_status,
       last_exit_code, consecutive_failures, in_flight, in_flight_since, updated_at
FROM execution_records
ORDER BY entry_key
`

const queryListInFlight = `
SELECT entry_key, last_due_at, last_start_at, last_end_at, last_status,
       last_exit_code, consecutive_failures, in_flight, in_flight_since, updated_at
FROM execution_records
WHERE in_flight = TRUE
ORDER BY entry_key
FOR UPDATE
`

const queryRecoverInFlight = `
UPDATE execution_records
SET in_flight = FALSE, in_flight_since = 0, last_status = $1, last_end_at = $2, updated_at = $3
WHERE in_flight = TRUE
`

const queryInsertAttempt = `
INSERT INTO run_attempts (id, entry_key, attempt, status, exit_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryListAttempts = `
SELECT id, entry_key, attempt, status, exit_code, error, started_at, finished_at
FROM run_attempts
WHERE entry_key = $1
ORDER BY started_at DESC
LIMIT $2
`

const queryPruneAttempts = `
DELETE FROM run_attempts
WHERE started_at < $1
`
