package sqlite

const queryEnsureRecord = `
INSERT INTO execution_records (entry_key, updated_at)
VALUES (?, ?)
ON CONFLICT (entry_key) DO NOTHING
`

const queryMarkStarted = `
UPDATE execution_records
SET in_flight = 1, in_flight_since = ?, last_due_at = ?, last_start_at = ?, updated_at = ?
WHERE entry_key = ?
  AND in_flight = 0
`

const queryMarkFinished = `
UPDATE execution_records
SET in_flight = 0, in_flight_since = 0, last_end_at = ?, last_status = ?,
    last_exit_code = ?, consecutive_failures = ?, updated_at = ?
WHERE entry_key = ?
`

const queryGetRecord = `
SELECT entry_key, last_due_at, last_start_at, last_end_at, last_status,
       last_exit_code, consecutive_failures, in_flight, in_flight_since, updated_at
FROM execution_records
WHERE entry_key = ?
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
WHERE in_flight = 1
ORDER BY entry_key
`

const queryRecoverInFlight = `
UPDATE execution_records
SET in_flight = 0, in_flight_since = 0, last_status = ?, last_end_at = ?, updated_at = ?
WHERE in_flight = 1
`

const queryInsertAttempt = `
INSERT INTO run_attempts (id, entry_key, attempt, status, exit_code, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const queryListAttempts = `
SELECT id, entry_key, attempt, status, exit_code, error, started_at, finished_at
FROM run_attempts
WHERE entry_key = ?
ORDER BY started_at DESC
LIMIT ?
`

const queryPruneAttempts = `
DELETE FROM run_attempts
WHERE started_at < ?
`
