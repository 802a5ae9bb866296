package ingest

import "time"

// ExpansionState tracks mutable progress for one top-level ingestion
// call. Exactly one is created per request and threaded through all
// recursive unpacking; it is never shared across requests.
type ExpansionState struct {
	// BytesExpanded is the running total of decompressed bytes.
	BytesExpanded int64

	// Depth is the current archive nesting depth (0 for the top level).
	Depth int

	// UnitsProduced counts content units emitted so far.
	UnitsProduced int

	// Deadline is the absolute wall-clock limit for the request.
	Deadline time.Time
}

// NewExpansionState creates the per-request state with an absolute
// deadline derived from the budget.
func NewExpansionState(budget Budget) *ExpansionState {
	return &ExpansionState{Deadline: time.Now().Add(budget.ProcessingTimeout)}
}

// AddExpanded records n freshly decompressed bytes against the budget.
// It returns a ResourceExceeded error the moment the cumulative total
// passes the limit, so callers can abort mid-stream.
func (s *ExpansionState) AddExpanded(n int64, budget Budget) error {
	s.BytesExpanded += n
	if s.BytesExpanded > budget.MaxExpandedBytes {
		return Errorf(ReasonResourceExceeded,
			"expanded content exceeds the %d byte limit", budget.MaxExpandedBytes)
	}
	return nil
}

// Expired reports whether the request deadline has passed.
func (s *ExpansionState) Expired() bool {
	return time.Now().After(s.Deadline)
}

// CheckDeadline returns a Timeout error once the deadline has passed.
func (s *ExpansionState) CheckDeadline() error {
	if s.Expired() {
		return Errorf(ReasonTimeout, "processing exceeded the configured time limit")
	}
	return nil
}
