package runner

import (
	"sort"
	"time"

	"github.com/artpar/stackup/internal/core/state"
)

// =============================================================================
// Plan Outcome
// =============================================================================

// Status is the plan-level result of one run.
type Status string

const (
	// StatusSuccess means every unit reached a clean steady or terminal state.
	StatusSuccess Status = "success"

	// StatusPartialFailure means at least one unit failed, was skipped, or
	// exited non-zero. Partial success is a first-class result, not an
	// exception path.
	StatusPartialFailure Status = "partial_failure"

	// StatusCanceled means the run was canceled or its deadline expired
	// before every unit settled.
	StatusCanceled Status = "canceled"
)

// Outcome is the final immutable snapshot of one run: per-unit terminal
// state, plan-level status, and the ordered sequence of transitions.
type Outcome struct {
	Plan       string                      `json:"plan"`
	Status     Status                      `json:"status"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Units      map[string]state.UnitStatus `json:"units"`
	Events     []state.Transition          `json:"events"`
}

// Success reports whether the whole plan succeeded.
func (o *Outcome) Success() bool {
	return o.Status == StatusSuccess
}

// FailedUnits returns the names of units that ended in a non-success state,
// sorted by name.
func (o *Outcome) FailedUnits() []string {
	var failed []string
	for name, us := range o.Units {
		if unitFailed(us) {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// unitFailed reports whether a unit's final state counts against plan
// success: Failed, Skipped, TimedOut, or a non-zero exit.
func unitFailed(us state.UnitStatus) bool {
	switch us.Phase {
	case state.PhaseFailed, state.PhaseSkipped, state.PhaseTimedOut:
		return true
	case state.PhaseExited:
		return us.ExitCode != 0
	}
	return false
}
