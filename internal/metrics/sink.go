package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Poll loop metrics
	TickStarted()
	TickCompleted(duration time.Duration, due int, err error)
	TickDrift(drift time.Duration)

	// Execution metrics
	TaskSucceeded()
	TaskFailed(status string)
	TaskRetried()
	TaskRecovered(reason string)
	OverlapSkipped()
	RunDuration(d time.Duration)
	TasksInFlightIncr()
	TasksInFlightDecr()

	// Schedule table metrics
	TableReloaded(entries, rejected int)

	// Event bus metrics
	EmitError()

	// Resource metrics
	CPUUsageUpdate(percent float64)
	MemoryUsageUpdate(percent float64)
}

// Failure status constants for TaskFailed.
const (
	StatusFailure = "failure"
	StatusTimeout = "timeout"
	StatusKilled  = "killed"
)

// Recovery reason constants for TaskRecovered.
const (
	RecoveryReasonCrash  = "crash"
	RecoveryReasonMissed = "missed"
)
