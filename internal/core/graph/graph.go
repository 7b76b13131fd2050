// Package graph compiles a declarative unit list into a validated dependency
// graph. This is part of the Functional Core - pure validation and
// compilation, no I/O and no side effects.
package graph

import (
	"sort"

	"github.com/artpar/stackup/internal/core/plan"
)

// =============================================================================
// Graph
// =============================================================================

// Graph is an immutable directed dependency graph over units. An edge U→V
// means V must reach its required condition before U starts.
type Graph struct {
	units      map[string]plan.Unit
	deps       map[string][]plan.Dependency
	dependents map[string][]string
	rank       map[string]int
	order      []string
}

// =============================================================================
// Build
// =============================================================================

// Build validates and compiles a set of unit definitions into a Graph.
//
// Validation, in order:
//  1. Unit names must be unique.
//  2. Every dependency target must resolve to a declared unit.
//  3. A Healthy condition on a unit without a health check is rejected.
//  4. The graph must be acyclic.
//
// The returned graph carries, for every unit, its direct dependencies and
// direct dependents, plus a precomputed topological rank used for
// deterministic tie-breaking among simultaneously-ready units.
func Build(units []plan.Unit) (*Graph, error) {
	g := &Graph{
		units:      make(map[string]plan.Unit, len(units)),
		deps:       make(map[string][]plan.Dependency, len(units)),
		dependents: make(map[string][]string),
	}

	for _, u := range units {
		if _, exists := g.units[u.Name]; exists {
			return nil, &BuildError{Unit: u.Name, Err: ErrDuplicateUnit}
		}
		g.units[u.Name] = u
		g.deps[u.Name] = u.Dependencies
	}

	for _, u := range units {
		for _, dep := range u.Dependencies {
			target, ok := g.units[dep.Target]
			if !ok {
				return nil, &BuildError{Unit: u.Name, Target: dep.Target, Err: ErrUnknownDependency}
			}
			if dep.Condition == plan.ConditionHealthy && !target.HasHealthCheck() {
				return nil, &BuildError{Unit: u.Name, Target: dep.Target, Err: ErrUnsatisfiableCondition}
			}
			g.dependents[dep.Target] = append(g.dependents[dep.Target], u.Name)
		}
	}

	if cycle := findCycle(g.deps); cycle != nil {
		return nil, &BuildError{Unit: cycle[0], Cycle: cycle, Err: ErrCyclicDependency}
	}

	// Dependent lists are sorted so skip propagation walks in a stable order.
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}

	g.computeRanks()

	return g, nil
}

// =============================================================================
// Cycle Detection
// =============================================================================

// findCycle runs a depth-first traversal with three-color marking
// (unvisited / in-progress / done). A back-edge to an in-progress node is a
// cycle; the full cycle path is reconstructed from the traversal stack.
// Returns nil if the graph is acyclic.
func findCycle(deps map[string][]plan.Dependency) []string {
	const (
		unvisited = iota
		inProgress
		done
	)

	color := make(map[string]int, len(deps))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = inProgress
		stack = append(stack, name)

		for _, dep := range deps[name] {
			switch color[dep.Target] {
			case inProgress:
				// Back-edge: the cycle is everything on the stack from the
				// first occurrence of the target, closed with the target.
				for i, n := range stack {
					if n == dep.Target {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep.Target)
					}
				}
			case unvisited:
				if cycle := visit(dep.Target); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = done
		return nil
	}

	// Visit in sorted order so the reported cycle is deterministic.
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// =============================================================================
// Topological Ranks
// =============================================================================

// computeRanks assigns each unit a topological rank using Kahn's algorithm.
// Ties are broken lexically by name, so the rank order is deterministic for
// a given plan. rank(dependency) < rank(dependent) for every edge.
func (g *Graph) computeRanks() {
	inDegree := make(map[string]int, len(g.units))
	for name, deps := range g.deps {
		inDegree[name] = len(deps)
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	g.rank = make(map[string]int, len(g.units))
	g.order = make([]string, 0, len(g.units))

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]

		g.rank[name] = len(g.order)
		g.order = append(g.order, name)

		var unlocked []string
		for _, dependent := range g.dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Len returns the number of units in the graph.
func (g *Graph) Len() int {
	return len(g.units)
}

// Unit returns the unit definition for a name.
func (g *Graph) Unit(name string) (plan.Unit, bool) {
	u, ok := g.units[name]
	return u, ok
}

// Units returns all units in topological order.
func (g *Graph) Units() []plan.Unit {
	units := make([]plan.Unit, 0, len(g.order))
	for _, name := range g.order {
		units = append(units, g.units[name])
	}
	return units
}

// Dependencies returns the direct dependency edges of a unit.
func (g *Graph) Dependencies(name string) []plan.Dependency {
	return g.deps[name]
}

// Dependents returns the names of units that directly depend on the given
// unit, sorted by name.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// Rank returns the topological rank of a unit. Lower ranks start earlier
// when several units become ready at the same time.
func (g *Graph) Rank(name string) int {
	return g.rank[name]
}

// StartOrder returns all unit names ordered by ascending topological rank.
func (g *Graph) StartOrder() []string {
	order := make([]string, len(g.order))
	copy(order, g.order)
	return order
}
