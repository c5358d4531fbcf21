package crontab

import (
	"strings"
	"testing"
	"time"
)

func mustTable(t *testing.T, input string) *Table {
	t.Helper()
	table, lineErrs := testParser().Parse(strings.NewReader(input))
	if len(lineErrs) != 0 {
		t.Fatalf("unexpected line errors: %v", lineErrs)
	}
	return table
}

func TestTableDue_ExactMinute(t *testing.T) {
	table := mustTable(t, "30 14 * * * /opt/job\n")

	at := time.Date(2025, 6, 10, 14, 30, 45, 0, time.UTC)
	if due := table.Due(at); len(due) != 1 {
		t.Errorf("expected due at 14:30 regardless of seconds, got %d", len(due))
	}

	at = time.Date(2025, 6, 10, 14, 31, 0, 0, time.UTC)
	if due := table.Due(at); len(due) != 0 {
		t.Errorf("expected nothing due at 14:31, got %d", len(due))
	}
}

func TestTableDue_EveryMinute(t *testing.T) {
	table := mustTable(t, "* * * * * /opt/heartbeat\n")

	at := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if due := table.Due(at.Add(time.Duration(i) * time.Minute)); len(due) != 1 {
			t.Fatalf("wildcard entry should be due every minute, minute %d missed", i)
		}
	}
}

func TestTableDue_Step(t *testing.T) {
	table := mustTable(t, "*/15 * * * * /opt/job\n")

	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	wantDue := map[int]bool{0: true, 15: true, 30: true, 45: true}
	for minute := 0; minute < 60; minute++ {
		due := table.Due(base.Add(time.Duration(minute) * time.Minute))
		if got := len(due) == 1; got != wantDue[minute] {
			t.Errorf("minute %d: due=%v, want %v", minute, got, wantDue[minute])
		}
	}
}

func TestTableDue_DomDowUnion(t *testing.T) {
	// Both restricted: conventional crontab fires on either match.
	table := mustTable(t, "0 0 13 * 5 /opt/job\n")

	// Friday June 6 2025 — matches day-of-week only.
	fri := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
	if due := table.Due(fri); len(due) != 1 {
		t.Error("expected due on Friday via day-of-week")
	}

	// Friday June 13 2025 — matches both.
	both := time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)
	if due := table.Due(both); len(due) != 1 {
		t.Error("expected due on the 13th")
	}

	// Monday June 9 2025 — matches neither.
	mon := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	if due := table.Due(mon); len(due) != 0 {
		t.Error("expected nothing due on Monday the 9th")
	}
}

func TestTableDue_SkipsDisabled(t *testing.T) {
	table := mustTable(t, "* * * * * /opt/job\n")
	entries := table.Entries()
	entries[0].Enabled = false
	disabled := NewTable(entries)

	at := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if due := disabled.Due(at); len(due) != 0 {
		t.Error("disabled entry must never be due")
	}
}

func TestTableLookup(t *testing.T) {
	table := mustTable(t, "0 0 * * * /opt/job\n")
	key := table.Entries()[0].Key

	if _, ok := table.Lookup(key); !ok {
		t.Error("expected lookup hit for loaded entry")
	}
	if _, ok := table.Lookup("deadbeef"); ok {
		t.Error("expected lookup miss for unknown key")
	}
}

func TestHolder_SwapIsVisible(t *testing.T) {
	first := mustTable(t, "0 0 * * * /opt/old\n")
	second := mustTable(t, "0 0 * * * /opt/new\n")

	holder := NewHolder(first)
	if holder.Current().Entries()[0].Command != "/opt/old" {
		t.Fatal("holder should serve the seeded table")
	}

	holder.Swap(second)
	if holder.Current().Entries()[0].Command != "/opt/new" {
		t.Error("holder should serve the swapped table")
	}
	if len(holder.Entries()) != 1 {
		t.Error("delegate Entries should follow the swap")
	}
}
