package crontab

import (
	"sync/atomic"
	"time"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Table is an immutable snapshot of the loaded schedule. Reload replaces
// the whole table via Holder.Swap, so readers never observe a partial one.
type Table struct {
	entries []domain.Entry
	byKey   map[domain.EntryKey]domain.Entry
}

// NewTable builds a table from parsed entries.
func NewTable(entries []domain.Entry) *Table {
	byKey := make(map[domain.EntryKey]domain.Entry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}
	return &Table{entries: entries, byKey: byKey}
}

// Entries returns all loaded entries in file order.
func (t *Table) Entries() []domain.Entry {
	return t.entries
}

// Len returns the number of loaded entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the entry with the given key.
func (t *Table) Lookup(key domain.EntryKey) (domain.Entry, bool) {
	e, ok := t.byKey[key]
	return e, ok
}

// Due returns the enabled entries whose pattern matches the minute
// truncation of at. Day-of-month and day-of-week are OR'd when both are
// restricted, per conventional crontab semantics.
func (t *Table) Due(at time.Time) []domain.Entry {
	minute := at.Truncate(time.Minute)
	prev := minute.Add(-time.Second)

	var due []domain.Entry
	for _, e := range t.entries {
		if !e.Enabled {
			continue
		}
		if e.Schedule.Next(prev).Equal(minute) {
			due = append(due, e)
		}
	}
	return due
}

// Holder publishes the current table. Swap is atomic: the poll loop
// always reads a fully-formed table.
type Holder struct {
	current atomic.Pointer[Table]
}

// NewHolder creates a holder seeded with the given table.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.current.Store(t)
	return h
}

// Swap replaces the published table.
func (h *Holder) Swap(t *Table) {
	h.current.Store(t)
}

// Current returns the published table.
func (h *Holder) Current() *Table {
	return h.current.Load()
}

// Due delegates to the current table.
func (h *Holder) Due(at time.Time) []domain.Entry {
	return h.Current().Due(at)
}

// Lookup delegates to the current table.
func (h *Holder) Lookup(key domain.EntryKey) (domain.Entry, bool) {
	return h.Current().Lookup(key)
}

// Entries delegates to the current table.
func (h *Holder) Entries() []domain.Entry {
	return h.Current().Entries()
}
