package graph

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrDuplicateUnit is returned when two units share a name.
	ErrDuplicateUnit = errors.New("duplicate unit name")

	// ErrUnknownDependency is returned when a dependency target does not
	// resolve to a declared unit.
	ErrUnknownDependency = errors.New("unknown dependency target")

	// ErrCyclicDependency is returned when the dependency edges contain a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnsatisfiableCondition is returned for a Healthy-condition dependency
	// on a unit that has no health check. This can never be resolved, so it
	// fails at build time rather than deadlocking at runtime.
	ErrUnsatisfiableCondition = errors.New("unsatisfiable dependency condition")
)

// BuildError wraps a build-time validation failure with the offending unit,
// dependency target, and cycle path where applicable.
type BuildError struct {
	Unit   string   // unit the error was detected on
	Target string   // dependency target, if relevant
	Cycle  []string // full cycle path for ErrCyclicDependency
	Err    error
}

func (e *BuildError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCyclicDependency):
		return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
	case errors.Is(e.Err, ErrDuplicateUnit):
		return fmt.Sprintf("duplicate unit name %q", e.Unit)
	case errors.Is(e.Err, ErrUnknownDependency):
		return fmt.Sprintf("unit %q depends on unknown unit %q", e.Unit, e.Target)
	case errors.Is(e.Err, ErrUnsatisfiableCondition):
		return fmt.Sprintf("unit %q requires %q to be healthy, but %q has no health check", e.Unit, e.Target, e.Target)
	default:
		return e.Err.Error()
	}
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
