// Package state tracks per-unit run state for one orchestration run. It is
// the single writer of unit lifecycle state: the scheduler reads snapshots
// and issues transitions, runtime signals arrive through RecordSignal.
package state

import "time"

// =============================================================================
// Phases
// =============================================================================

// Phase is the lifecycle phase of a unit within one run.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseStarting  Phase = "starting"
	PhaseStarted   Phase = "started"
	PhaseHealthy   Phase = "healthy"
	PhaseUnhealthy Phase = "unhealthy"
	PhaseExited    Phase = "exited"
	PhaseFailed    Phase = "failed"
	PhaseSkipped   Phase = "skipped"
	PhaseTimedOut  Phase = "timed_out"
)

// IsValid checks if the phase is one of the known values.
func (p Phase) IsValid() bool {
	switch p {
	case PhasePending, PhaseStarting, PhaseStarted, PhaseHealthy,
		PhaseUnhealthy, PhaseExited, PhaseFailed, PhaseSkipped, PhaseTimedOut:
		return true
	}
	return false
}

// IsTerminal reports whether no further signal can move the unit to another
// phase. Healthy and Started are steady states for long-running units but
// not terminal: an exit or health flip can still arrive.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseExited, PhaseFailed, PhaseSkipped, PhaseTimedOut:
		return true
	}
	return false
}

// =============================================================================
// Signals
// =============================================================================

// SignalKind identifies the kind of runtime signal.
type SignalKind string

const (
	SignalStarted      SignalKind = "started"
	SignalHealthUpdate SignalKind = "health_update"
	SignalExited       SignalKind = "exited"
	SignalLaunchFailed SignalKind = "launch_failed"
)

// Signal is a lifecycle notification from the runtime launcher. It is a
// closed tagged variant: Healthy is meaningful only for SignalHealthUpdate,
// ExitCode only for SignalExited, Reason only for SignalLaunchFailed.
type Signal struct {
	Kind     SignalKind
	Healthy  bool
	ExitCode int
	Reason   string
}

// Started reports that the unit's process has started.
func Started() Signal {
	return Signal{Kind: SignalStarted}
}

// HealthUpdate reports a health probe result.
func HealthUpdate(healthy bool) Signal {
	return Signal{Kind: SignalHealthUpdate, Healthy: healthy}
}

// Exited reports that the unit's process has exited with the given code.
func Exited(code int) Signal {
	return Signal{Kind: SignalExited, ExitCode: code}
}

// LaunchFailed reports that the launcher could not start the unit.
func LaunchFailed(reason string) Signal {
	return Signal{Kind: SignalLaunchFailed, Reason: reason}
}

// =============================================================================
// Transitions
// =============================================================================

// Transition is one recorded phase change for a unit. The ordered sequence
// of transitions forms the run's audit trail.
type Transition struct {
	Unit     string    `json:"unit"`
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	ExitCode int       `json:"exit_code,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// =============================================================================
// Unit Status
// =============================================================================

// UnitStatus is an immutable snapshot of one unit's run state.
type UnitStatus struct {
	Unit      string     `json:"unit"`
	Phase     Phase      `json:"phase"`
	ExitCode  int        `json:"exit_code,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}
