package controller

import (
	"sync"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// runStates tracks which entries currently have an attempt executing.
// Entries are independent: the map guards admission only, never the
// execution itself, so holding the lock is always brief.
type runStates struct {
	mu       sync.Mutex
	inFlight map[domain.EntryKey]bool
}

func newRunStates() *runStates {
	return &runStates{
		inFlight: make(map[domain.EntryKey]bool),
	}
}

// begin claims the entry for one run. It returns false when an attempt
// is already executing, which the caller reports as an overlap skip.
func (s *runStates) begin(key domain.EntryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[key] {
		return false
	}
	s.inFlight[key] = true
	return true
}

// end releases the entry after its run slot resolves.
func (s *runStates) end(key domain.EntryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}
