package ingest

import (
	"testing"
	"time"
)

func TestAddExpandedIncrementalGuard(t *testing.T) {
	budget := Budget{MaxExpandedBytes: 100, ProcessingTimeout: time.Minute}
	state := NewExpansionState(budget)

	if err := state.AddExpanded(60, budget); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := state.AddExpanded(40, budget); err != nil {
		t.Fatalf("add at exact limit: %v", err)
	}

	err := state.AddExpanded(1, budget)
	if err == nil {
		t.Fatal("expected error once limit is passed")
	}
	if ReasonOf(err) != ReasonResourceExceeded {
		t.Errorf("ReasonOf() = %q, want %q", ReasonOf(err), ReasonResourceExceeded)
	}
}

func TestCheckDeadline(t *testing.T) {
	state := &ExpansionState{Deadline: time.Now().Add(-time.Second)}
	err := state.CheckDeadline()
	if err == nil {
		t.Fatal("expected error for expired deadline")
	}
	if ReasonOf(err) != ReasonTimeout {
		t.Errorf("ReasonOf() = %q, want %q", ReasonOf(err), ReasonTimeout)
	}

	state = &ExpansionState{Deadline: time.Now().Add(time.Minute)}
	if err := state.CheckDeadline(); err != nil {
		t.Errorf("unexpected error before deadline: %v", err)
	}
}
