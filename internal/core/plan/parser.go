package plan

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses Compose YAML into a Plan.
// This is a pure function - no I/O, no side effects.
// Input: plan name and raw YAML string
// Output: Plan struct or error
func Parse(name, yamlContent string) (*Plan, error) {
	// Input validation
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadComposeSpec(yamlContent)
	if err != nil {
		return nil, err
	}

	// Check for unsupported features first
	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoUnits
	}

	p := &Plan{
		Name:  name,
		Units: make([]Unit, 0, len(project.Services)),
	}

	for _, svc := range project.Services {
		unit, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		p.Units = append(p.Units, unit)
	}

	// compose-go returns services in map order; sort for a stable plan
	sort.Slice(p.Units, func(i, j int) bool {
		return p.Units[i].Name < p.Units[j].Name
	})

	if err := validatePorts(p.Units); err != nil {
		return nil, err
	}

	return p, nil
}

// loadComposeSpec loads a compose spec using compose-go
func loadComposeSpec(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	// The loader only strips the obsolete version key during schema
	// validation, which we skip below.
	delete(dict, "version")

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackup-temp", false)
		// Schema validation rejects unknown depends_on conditions with a
		// generic message; convertDependencies reports them with the exact
		// field path and value instead. Cycle and image checks still run
		// via the loader's consistency check.
		opts.SkipValidation = true
		opts.SkipInterpolation = false
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have an image", ErrUnitNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures checks for features we don't support
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Build != nil {
			return NewParseError("services."+svc.Name+".build", "image builds are not supported", ErrUnsupportedFeature)
		}
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to a Unit
func convertService(svc types.ServiceConfig) (Unit, error) {
	unit := Unit{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if unit.Image == "" {
		return Unit{}, NewParseError("services."+svc.Name, "service must have an image", ErrUnitNoImage)
	}

	// Environment
	for k, v := range svc.Environment {
		if v != nil {
			unit.Environment[k] = *v
		}
	}

	// Labels
	for k, v := range svc.Labels {
		unit.Labels[k] = v
	}

	// Ports
	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		unit.Ports = append(unit.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	// DependsOn: long form carries a condition, short form defaults to
	// service_started. Sorted for deterministic edge order.
	deps, err := convertDependencies(svc)
	if err != nil {
		return Unit{}, err
	}
	unit.Dependencies = deps

	// Restart policy
	unit.Restart = RestartPolicy(svc.Restart)

	// HealthCheck
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		unit.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			unit.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			unit.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			unit.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			unit.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return unit, nil
}

// convertDependencies converts a compose-go depends_on block to dependency edges.
func convertDependencies(svc types.ServiceConfig) ([]Dependency, error) {
	if len(svc.DependsOn) == 0 {
		return nil, nil
	}

	targets := make([]string, 0, len(svc.DependsOn))
	for target := range svc.DependsOn {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	deps := make([]Dependency, 0, len(targets))
	for _, target := range targets {
		cfg := svc.DependsOn[target]
		cond := Condition(cfg.Condition)
		if cfg.Condition == "" {
			cond = ConditionStarted
		}
		if !cond.IsValid() {
			return nil, NewParseError(
				"services."+svc.Name+".depends_on."+target,
				"unknown condition "+cfg.Condition,
				ErrUnknownCondition,
			)
		}
		deps = append(deps, Dependency{Target: target, Condition: cond})
	}
	return deps, nil
}

// validatePorts validates all port configurations
func validatePorts(units []Unit) error {
	for _, unit := range units {
		for i, port := range unit.Ports {
			if port.Target == 0 {
				return NewParseError(
					"services."+unit.Name+".ports["+strconv.Itoa(i)+"]",
					"target port cannot be 0",
					ErrServiceInvalidPort,
				)
			}
			if port.Target > 65535 {
				return NewParseError(
					"services."+unit.Name+".ports["+strconv.Itoa(i)+"]",
					"target port must be <= 65535",
					ErrServiceInvalidPort,
				)
			}
			if port.Published > 65535 {
				return NewParseError(
					"services."+unit.Name+".ports["+strconv.Itoa(i)+"]",
					"published port must be <= 65535",
					ErrServiceInvalidPort,
				)
			}
		}
	}
	return nil
}
