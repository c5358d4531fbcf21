package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunOutcome is the transient result of one task attempt. It is not
// persisted beyond updating the ExecutionRecord and the attempt history.
type RunOutcome struct {
	EntryKey EntryKey
	Attempt  int

	StartedAt  time.Time
	FinishedAt time.Time

	Status   RunStatus
	ExitCode int
	Error    string
}

// RunAttempt is one row of the attempt history.
type RunAttempt struct {
	ID       uuid.UUID
	EntryKey EntryKey
	Attempt  int

	Status   RunStatus
	ExitCode int
	Error    string

	StartedAt  time.Time
	FinishedAt time.Time
}
