package domain

import (
	"time"

	"github.com/google/uuid"
)

// DueReason says why an entry was handed to the controller.
type DueReason string

const (
	// DueReasonSchedule is a normal due tick.
	DueReasonSchedule DueReason = "schedule"
	// DueReasonCrash is a catch-up for an attempt interrupted by a daemon crash.
	DueReasonCrash DueReason = "crash"
	// DueReasonMissed is a catch-up for slots missed while the daemon was down.
	DueReasonMissed DueReason = "missed"
)

// DueEvent is emitted by the poll loop (or the recovery coordinator) when
// an entry should run.
type DueEvent struct {
	ID       uuid.UUID
	EntryKey EntryKey

	DueAt   time.Time // the matched minute (UTC)
	FiredAt time.Time // actual emission time
	Reason  DueReason
}
