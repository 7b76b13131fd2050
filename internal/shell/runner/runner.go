package runner

import (
	"context"
	"log/slog"

	"github.com/artpar/stackup/internal/core/graph"
	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/core/state"
)

// =============================================================================
// Runner - Plan Executor
// =============================================================================

// Runner executes plans against a launcher. It is a thin façade: validate
// the plan into a graph, construct a fresh tracker, run the scheduler,
// return the outcome. Safe for concurrent runs; each Up call has its own
// tracker and scheduler.
type Runner struct {
	launcher Launcher
	logger   *slog.Logger
	bus      *eventBus
}

// NewRunner creates a runner backed by the given launcher.
func NewRunner(launcher Launcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		launcher: launcher,
		logger:   logger,
		bus:      newEventBus(),
	}
}

// Subscribe returns a stream of per-unit phase transitions across all runs
// on this runner, for progress reporting. The cancel function must be
// called to release the subscription.
func (r *Runner) Subscribe() (<-chan state.Transition, func()) {
	return r.bus.subscribe()
}

// Up brings a plan's units from not-running to running (or failed).
//
// Build-time validation errors (duplicate names, unknown or unsatisfiable
// dependencies, cycles) are returned before anything starts. Runtime
// failures are not errors: they are reported in the Outcome, which always
// enumerates every unit's final state. The context's cancellation or
// deadline stops further launches and marks unsettled units TimedOut.
func (r *Runner) Up(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	g, err := graph.Build(p.Units)
	if err != nil {
		return nil, err
	}

	names := g.StartOrder()
	tracker := state.NewTracker(names, r.logger)

	sched := newScheduler(g, tracker, r.launcher, r.logger.With("plan", p.Name), r.bus.publish)
	outcome := sched.run(ctx)
	outcome.Plan = p.Name

	return outcome, nil
}

// Down best-effort stops every unit of a plan, in reverse start order so
// dependents stop before what they depend on.
func (r *Runner) Down(ctx context.Context, p *plan.Plan) error {
	g, err := graph.Build(p.Units)
	if err != nil {
		return err
	}

	order := g.StartOrder()
	for i := len(order) - 1; i >= 0; i-- {
		if err := r.launcher.Stop(ctx, order[i]); err != nil {
			r.logger.Warn("failed to stop unit", "unit", order[i], "error", err)
		}
	}
	return nil
}
