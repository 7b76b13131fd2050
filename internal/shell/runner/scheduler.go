package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/stackup/internal/core/graph"
	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/core/state"
)

// =============================================================================
// Scheduler Core
// =============================================================================

// scheduler drives one run. Launches are concurrent, but all bookkeeping -
// readiness evaluation, tracker transitions, skip propagation - happens
// serialized in the control loop, fed by a single-consumer signal queue.
type scheduler struct {
	graph    *graph.Graph
	tracker  *state.Tracker
	launcher Launcher
	logger   *slog.Logger
	notify   func(state.Transition)

	signals  chan unitSignal
	done     chan struct{}
	launched map[string]bool
	events   []state.Transition
	canceled bool
}

type unitSignal struct {
	unit string
	sig  state.Signal
}

func newScheduler(g *graph.Graph, tracker *state.Tracker, launcher Launcher, logger *slog.Logger, notify func(state.Transition)) *scheduler {
	return &scheduler{
		graph:    g,
		tracker:  tracker,
		launcher: launcher,
		logger:   logger.With("component", "scheduler"),
		notify:   notify,
		// Each unit emits a handful of signals (started, health flips, exit);
		// the buffer keeps launcher goroutines from blocking on the loop.
		signals:  make(chan unitSignal, 16*g.Len()+16),
		done:     make(chan struct{}),
		launched: make(map[string]bool, g.Len()),
	}
}

// Signal implements SignalSink. Signals arriving after the run has completed
// are dropped; the launcher's watchers may outlive the control loop briefly.
func (s *scheduler) Signal(unit string, sig state.Signal) {
	select {
	case s.signals <- unitSignal{unit: unit, sig: sig}:
	case <-s.done:
		s.logger.Debug("signal after run completion dropped", "unit", unit, "signal", sig.Kind)
	}
}

// =============================================================================
// Control Loop
// =============================================================================

// run executes the plan to quiescence or cancellation and returns the
// aggregated outcome. It is the only goroutine that mutates run state.
func (s *scheduler) run(ctx context.Context) *Outcome {
	startedAt := time.Now().UTC()

	s.logger.Info("run started", "units", s.graph.Len())

	// A context that is dead on arrival means nothing launches at all.
	if ctx.Err() != nil {
		s.cancel()
	} else {
		s.launchReady(ctx)
	}

	for !s.quiescent() {
		select {
		case <-ctx.Done():
			s.cancel()
		case us := <-s.signals:
			s.apply(ctx, us)
		}
		if s.canceled {
			break
		}
	}

	// Record signals already in flight so the final snapshot is accurate.
	s.drain()
	close(s.done)

	outcome := s.outcome(startedAt)
	s.logger.Info("run finished",
		"status", outcome.Status,
		"failed_units", outcome.FailedUnits(),
		"duration", outcome.FinishedAt.Sub(outcome.StartedAt),
	)
	return outcome
}

// apply records one signal and reacts to it: propagate skips if the unit
// became permanently unsatisfiable, then re-evaluate readiness.
func (s *scheduler) apply(ctx context.Context, us unitSignal) {
	tr, ok := s.tracker.RecordSignal(us.unit, us.sig)
	if !ok {
		return
	}
	s.record(tr)

	// A failure or any exit can make dependency conditions permanently
	// unsatisfiable (an exited unit can never become healthy).
	if tr.To == state.PhaseFailed || tr.To == state.PhaseExited {
		s.propagateSkips(us.unit)
	}

	s.launchReady(ctx)
}

// =============================================================================
// Launching
// =============================================================================

// launchReady launches every Pending unit whose dependencies' required
// conditions are all satisfied. Issuance order is ascending topological
// rank (lexical within a rank tie); the launches themselves run
// concurrently and may complete in any order.
func (s *scheduler) launchReady(ctx context.Context) {
	if s.canceled {
		return
	}

	for _, name := range s.graph.StartOrder() {
		if s.launched[name] || s.tracker.Phase(name) != state.PhasePending {
			continue
		}
		if !s.depsSatisfied(name) {
			continue
		}

		tr, ok := s.tracker.MarkStarting(name)
		if !ok {
			continue
		}
		s.record(tr)
		s.launched[name] = true

		unit, _ := s.graph.Unit(name)
		s.logger.Info("launching unit", "unit", name, "rank", s.graph.Rank(name))
		go s.launch(ctx, unit)
	}
}

// launch issues one unit start. A rejected launch is reported back through
// the signal queue so the control loop records it like any other signal.
func (s *scheduler) launch(ctx context.Context, unit plan.Unit) {
	if err := s.launcher.Launch(ctx, unit, s); err != nil {
		s.logger.Warn("launch rejected", "unit", unit.Name, "error", err)
		s.Signal(unit.Name, state.LaunchFailed(err.Error()))
	}
}

func (s *scheduler) depsSatisfied(name string) bool {
	for _, dep := range s.graph.Dependencies(name) {
		if !s.tracker.IsConditionMet(dep.Target, dep.Condition) {
			return false
		}
	}
	return true
}

// =============================================================================
// Failure Propagation
// =============================================================================

// propagateSkips walks the dependent edges outward from a unit that just
// failed or exited and marks every Pending unit with a now-unsatisfiable
// dependency as Skipped. Already-skipped units are not re-walked, keeping
// the propagation linear in edges.
//
// Units whose required condition was already met before the dependency
// failed are not retroactively skipped: only Pending units are eligible.
func (s *scheduler) propagateSkips(unit string) {
	queue := []string{unit}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		for _, dependent := range s.graph.Dependents(name) {
			if s.tracker.Phase(dependent) != state.PhasePending {
				continue
			}
			if !s.depUnsatisfiable(dependent) {
				continue
			}
			tr, ok := s.tracker.MarkSkipped(dependent, "dependency "+name+" can no longer be satisfied")
			if !ok {
				continue
			}
			s.logger.Warn("skipping unit", "unit", dependent, "dependency", name)
			s.record(tr)
			queue = append(queue, dependent)
		}
	}
}

func (s *scheduler) depUnsatisfiable(name string) bool {
	for _, dep := range s.graph.Dependencies(name) {
		if s.tracker.IsConditionUnsatisfiable(dep.Target, dep.Condition) {
			return true
		}
	}
	return false
}

// =============================================================================
// Quiescence & Cancellation
// =============================================================================

// quiescent reports whether no further scheduling action is possible: no
// unit is Pending or Starting, and every started unit with a health check
// has received its first health verdict or exited. Started without a health
// check is a steady state; Healthy and Unhealthy are settled verdicts.
func (s *scheduler) quiescent() bool {
	for _, name := range s.graph.StartOrder() {
		switch s.tracker.Phase(name) {
		case state.PhasePending, state.PhaseStarting:
			return false
		case state.PhaseStarted:
			if unit, ok := s.graph.Unit(name); ok && unit.HasHealthCheck() {
				return false
			}
		}
	}
	return true
}

// cancel stops issuing launches and marks every unit still Pending or
// Starting as TimedOut. Already-started units are left alone; forced
// teardown is the launcher's business, not the scheduler's.
func (s *scheduler) cancel() {
	if s.canceled {
		return
	}
	s.canceled = true
	s.logger.Warn("run canceled, no further launches")

	// Signals already in flight still count toward the final snapshot.
	s.drain()

	for _, name := range s.graph.StartOrder() {
		if tr, ok := s.tracker.MarkTimedOut(name); ok {
			s.record(tr)
		}
	}
}

// drain records any signals already queued without blocking.
func (s *scheduler) drain() {
	for {
		select {
		case us := <-s.signals:
			if tr, ok := s.tracker.RecordSignal(us.unit, us.sig); ok {
				s.record(tr)
			}
		default:
			return
		}
	}
}

// =============================================================================
// Recording & Outcome
// =============================================================================

func (s *scheduler) record(tr state.Transition) {
	s.events = append(s.events, tr)
	s.logger.Debug("unit transition",
		"unit", tr.Unit,
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason,
	)
	if s.notify != nil {
		s.notify(tr)
	}
}

func (s *scheduler) outcome(startedAt time.Time) *Outcome {
	units := make(map[string]state.UnitStatus, s.graph.Len())
	anyFailed := false
	for _, name := range s.graph.StartOrder() {
		us, _ := s.tracker.Status(name)
		units[name] = us
		if unitFailed(us) {
			anyFailed = true
		}
	}

	status := StatusSuccess
	switch {
	case s.canceled:
		status = StatusCanceled
	case anyFailed:
		status = StatusPartialFailure
	}

	return &Outcome{
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Units:      units,
		Events:     s.events,
	}
}
