package plan

// =============================================================================
// Plan - Main Input Type
// =============================================================================

// Plan is the full declarative set of units and dependency edges for one
// orchestration run. Immutable once a run begins.
type Plan struct {
	Name  string `json:"name"`
	Units []Unit `json:"units"`
}

// Unit returns the unit with the given name, if present.
func (p *Plan) Unit(name string) (Unit, bool) {
	for _, u := range p.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// =============================================================================
// Unit Types
// =============================================================================

// Unit is a single schedulable entity (a "service" in Compose terms).
type Unit struct {
	Name         string            `json:"name"`
	Image        string            `json:"image,omitempty"`
	Command      []string          `json:"command,omitempty"`
	Entrypoint   []string          `json:"entrypoint,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	Ports        []Port            `json:"ports,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	HealthCheck  *HealthCheck      `json:"healthcheck,omitempty"`
	Restart      RestartPolicy     `json:"restart,omitempty"`
}

// HasHealthCheck reports whether the runtime will ever emit health signals
// for this unit. A Healthy-condition dependency on a unit without a health
// check can never be satisfied.
func (u Unit) HasHealthCheck() bool {
	return u.HealthCheck != nil
}

// Dependency is a single dependency edge: the named target unit must reach
// the required condition before this unit starts.
type Dependency struct {
	Target    string    `json:"target"`
	Condition Condition `json:"condition"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// HealthCheck represents health check configuration, passed through to the
// launcher verbatim.
type HealthCheck struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod string   `json:"start_period,omitempty"`
}

// RestartPolicy represents the restart policy passed through to the launcher.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// =============================================================================
// Dependency Conditions
// =============================================================================

// Condition is the readiness requirement a dependent unit places on a
// dependency. It is a closed set so the graph builder can validate
// satisfiability at build time.
type Condition string

const (
	// ConditionStarted is satisfied once the dependency has started
	// (a clean exit still counts as having started).
	ConditionStarted Condition = "service_started"

	// ConditionHealthy is satisfied only while the dependency reports healthy.
	ConditionHealthy Condition = "service_healthy"

	// ConditionCompletedSuccessfully is satisfied only once the dependency
	// has exited with code 0.
	ConditionCompletedSuccessfully Condition = "service_completed_successfully"
)

// IsValid checks if the condition is one of the known values.
func (c Condition) IsValid() bool {
	switch c {
	case ConditionStarted, ConditionHealthy, ConditionCompletedSuccessfully:
		return true
	}
	return false
}
