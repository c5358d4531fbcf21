package domain

import "time"

// RunStatus is the resolved outcome of one task attempt.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusTimeout RunStatus = "timeout"
	// RunStatusKilled marks an attempt terminated by the daemon itself,
	// either during shutdown or because the prior process crashed mid-run.
	RunStatusKilled RunStatus = "killed"
)

// ExecutionRecord is the durable per-entry execution state. It survives
// daemon restarts so the recovery coordinator can detect interrupted and
// missed runs.
type ExecutionRecord struct {
	EntryKey EntryKey

	LastDueAt   time.Time
	LastStartAt time.Time
	LastEndAt   time.Time

	LastStatus   RunStatus
	LastExitCode int

	// ConsecutiveFailures counts failed attempts since the last success.
	ConsecutiveFailures int

	InFlight      bool
	InFlightSince time.Time

	UpdatedAt time.Time
}
