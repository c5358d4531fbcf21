package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Schedule computes fire times for a parsed time pattern.
type Schedule interface {
	Next(after time.Time) time.Time
}

// EntryKey is the stable identity of a schedule entry. It is derived from
// the entry's time pattern and command, so it survives crontab reordering
// and reloads; editing either makes a new entry with fresh state.
type EntryKey string

// NewEntryKey derives the key for a (spec, command) pair.
func NewEntryKey(spec, command string) EntryKey {
	hash := sha256.Sum256([]byte(spec + "|" + command))
	return EntryKey(hex.EncodeToString(hash[:16]))
}

// Entry is one loaded crontab line. Entries are immutable once loaded;
// a reload replaces the whole table.
type Entry struct {
	Key     EntryKey
	Spec    string
	Command string
	Enabled bool
	Line    int

	// Env holds KEY=VALUE pairs from variable lines preceding the entry,
	// passed through to the child process.
	Env []string

	Timeout    time.Duration
	MaxRetries int

	Schedule Schedule
}
