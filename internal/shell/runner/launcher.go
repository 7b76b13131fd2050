// Package runner executes orchestration plans: it walks the dependency
// graph, launches units whose required conditions are satisfied, and
// aggregates per-unit outcomes. This is part of the Imperative Shell - the
// launcher collaborator does the actual I/O.
package runner

import (
	"context"

	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/core/state"
)

// =============================================================================
// Launcher Collaborator
// =============================================================================

// SignalSink receives lifecycle signals for units of one run. The scheduler
// implements it; launchers call it as the unit progresses.
type SignalSink interface {
	Signal(unit string, sig state.Signal)
}

// Launcher is the runtime collaborator that actually starts units.
//
// Launch is issued at most once per unit per run. A successful Launch must
// eventually cause Signal calls on the sink as the unit progresses: Started,
// then optionally health updates, then optionally an exit. A returned error
// means the launch was rejected; the scheduler records the unit as Failed
// and does not retry.
//
// Stop is best-effort teardown, used only on explicit cancellation.
type Launcher interface {
	Launch(ctx context.Context, unit plan.Unit, sink SignalSink) error
	Stop(ctx context.Context, unit string) error
}
