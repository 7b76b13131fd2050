package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/stackup/internal/core/plan"
)

// =============================================================================
// Signal Transition Table
// =============================================================================

// signalTransitions defines, per signal kind, the phases the signal may
// legally arrive in. A signal arriving in any other phase is an out-of-order
// signal: logged and ignored, never fatal - runtime collaborators may emit
// signals with benign races.
var signalTransitions = map[SignalKind][]Phase{
	SignalStarted:      {PhaseStarting},
	SignalHealthUpdate: {PhaseStarted, PhaseHealthy, PhaseUnhealthy},
	SignalExited:       {PhaseStarting, PhaseStarted, PhaseHealthy, PhaseUnhealthy},
	SignalLaunchFailed: {PhaseStarting},
}

// =============================================================================
// Tracker
// =============================================================================

// Tracker owns one unit run state per unit for the lifetime of one run.
// All mutation funnels through it; internal locking makes each transition
// atomic.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*unitState
	logger *slog.Logger
}

type unitState struct {
	phase     Phase
	exitCode  int
	reason    string
	startedAt *time.Time
	settledAt *time.Time
}

// NewTracker creates a tracker with every named unit in Pending.
func NewTracker(unitNames []string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	states := make(map[string]*unitState, len(unitNames))
	for _, name := range unitNames {
		states[name] = &unitState{phase: PhasePending}
	}
	return &Tracker{
		states: states,
		logger: logger.With("component", "tracker"),
	}
}

// =============================================================================
// Runtime Signals
// =============================================================================

// RecordSignal applies a runtime signal to a unit and returns the resulting
// transition. Returns false for unknown units and out-of-order signals;
// both are logged and otherwise ignored.
func (t *Tracker) RecordSignal(unit string, sig Signal) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	us, ok := t.states[unit]
	if !ok {
		t.logger.Warn("signal for unknown unit", "unit", unit, "signal", sig.Kind)
		return Transition{}, false
	}

	if !signalLegal(us.phase, sig.Kind) {
		t.logger.Warn("out of order signal ignored",
			"unit", unit,
			"signal", sig.Kind,
			"phase", us.phase,
		)
		return Transition{}, false
	}

	next := nextPhase(us.phase, sig)
	if next == us.phase {
		// Repeated health probe with the same result; nothing to record.
		return Transition{}, false
	}

	return t.transition(unit, us, next, sig.ExitCode, sig.Reason), true
}

// signalLegal checks the transition table for the current phase.
func signalLegal(cur Phase, kind SignalKind) bool {
	for _, p := range signalTransitions[kind] {
		if p == cur {
			return true
		}
	}
	return false
}

// nextPhase maps (current phase, signal) to the new phase. Callers must have
// checked legality first.
func nextPhase(cur Phase, sig Signal) Phase {
	switch sig.Kind {
	case SignalStarted:
		return PhaseStarted
	case SignalHealthUpdate:
		if sig.Healthy {
			return PhaseHealthy
		}
		return PhaseUnhealthy
	case SignalExited:
		return PhaseExited
	case SignalLaunchFailed:
		return PhaseFailed
	}
	return cur
}

// =============================================================================
// Scheduler Transitions
// =============================================================================

// MarkStarting moves a Pending unit to Starting. Called by the scheduler
// just before issuing the launch.
func (t *Tracker) MarkStarting(unit string) (Transition, bool) {
	return t.markFrom(unit, PhaseStarting, "", PhasePending)
}

// MarkSkipped moves a Pending unit to Skipped because an ancestor became
// permanently unsatisfiable.
func (t *Tracker) MarkSkipped(unit, reason string) (Transition, bool) {
	return t.markFrom(unit, PhaseSkipped, reason, PhasePending)
}

// MarkTimedOut moves a unit still Pending or Starting to TimedOut after
// cancellation or deadline expiry.
func (t *Tracker) MarkTimedOut(unit string) (Transition, bool) {
	return t.markFrom(unit, PhaseTimedOut, "run canceled before unit settled", PhasePending, PhaseStarting)
}

func (t *Tracker) markFrom(unit string, to Phase, reason string, from ...Phase) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	us, ok := t.states[unit]
	if !ok {
		return Transition{}, false
	}
	for _, f := range from {
		if us.phase == f {
			return t.transition(unit, us, to, us.exitCode, reason), true
		}
	}
	return Transition{}, false
}

// transition mutates the unit state and returns the recorded transition.
// Caller holds the lock.
func (t *Tracker) transition(unit string, us *unitState, to Phase, exitCode int, reason string) Transition {
	now := time.Now().UTC()
	tr := Transition{
		Unit:     unit,
		From:     us.phase,
		To:       to,
		ExitCode: exitCode,
		Reason:   reason,
		At:       now,
	}

	us.phase = to
	us.exitCode = exitCode
	if reason != "" {
		us.reason = reason
	}
	if to == PhaseStarted && us.startedAt == nil {
		us.startedAt = &now
	}
	if to.IsTerminal() && us.settledAt == nil {
		us.settledAt = &now
	}

	return tr
}

// =============================================================================
// Condition Queries
// =============================================================================

// IsConditionMet reports whether a unit currently satisfies a condition.
//
//   - Started: met by Started, Healthy, or a clean exit.
//   - Healthy: met only while the unit reports healthy.
//   - CompletedSuccessfully: met only by a clean exit.
func (t *Tracker) IsConditionMet(unit string, cond plan.Condition) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	us, ok := t.states[unit]
	if !ok {
		return false
	}

	switch cond {
	case plan.ConditionStarted:
		return us.phase == PhaseStarted || us.phase == PhaseHealthy ||
			(us.phase == PhaseExited && us.exitCode == 0)
	case plan.ConditionHealthy:
		return us.phase == PhaseHealthy
	case plan.ConditionCompletedSuccessfully:
		return us.phase == PhaseExited && us.exitCode == 0
	}
	return false
}

// IsConditionUnsatisfiable reports whether a unit can no longer ever satisfy
// a condition. Failed, Skipped, and TimedOut units satisfy nothing. An
// exited unit can never become healthy, and a non-zero exit satisfies
// nothing at all.
func (t *Tracker) IsConditionUnsatisfiable(unit string, cond plan.Condition) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	us, ok := t.states[unit]
	if !ok {
		return true
	}

	switch us.phase {
	case PhaseFailed, PhaseSkipped, PhaseTimedOut:
		return true
	case PhaseExited:
		if cond == plan.ConditionHealthy {
			return true
		}
		return us.exitCode != 0
	}
	return false
}

// =============================================================================
// Snapshots
// =============================================================================

// Phase returns the current phase of a unit.
func (t *Tracker) Phase(unit string) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	if us, ok := t.states[unit]; ok {
		return us.phase
	}
	return ""
}

// Snapshot returns the current phase of every unit. Calling it repeatedly
// between signals returns identical results.
func (t *Tracker) Snapshot() map[string]Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]Phase, len(t.states))
	for name, us := range t.states {
		snap[name] = us.phase
	}
	return snap
}

// Status returns the full run-state snapshot for a unit.
func (t *Tracker) Status(unit string) (UnitStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	us, ok := t.states[unit]
	if !ok {
		return UnitStatus{}, false
	}
	return UnitStatus{
		Unit:      unit,
		Phase:     us.phase,
		ExitCode:  us.exitCode,
		Reason:    us.reason,
		StartedAt: us.startedAt,
		SettledAt: us.settledAt,
	}, true
}
