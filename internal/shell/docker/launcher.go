// Package docker implements the runtime launcher on the Docker Engine API:
// it creates and starts one container per unit and reports lifecycle signals
// back to the scheduler.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/core/state"
	"github.com/artpar/stackup/internal/shell/runner"
)

// =============================================================================
// Labels
// =============================================================================

const (
	LabelManaged = "com.stackup.managed"
	LabelRun     = "com.stackup.run"
	LabelUnit    = "com.stackup.unit"
)

// defaultHealthInterval is the poll interval for container health when the
// unit's healthcheck does not specify one.
const defaultHealthInterval = 5 * time.Second

// stopGraceTimeout is how long Stop waits before Docker kills the container.
const stopGraceTimeout = 10 * time.Second

// =============================================================================
// Launcher
// =============================================================================

// Launcher starts units as Docker containers. One Launcher serves one run:
// every container it creates is labeled with the run ID so teardown can
// find them again.
type Launcher struct {
	cli    *client.Client
	logger *slog.Logger
	runID  string

	mu         sync.Mutex
	containers map[string]string // unit name -> container ID
}

var _ runner.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher for one run. If host is empty, the Docker
// host is taken from the environment.
func NewLauncher(host, runID string, logger *slog.Logger) (*Launcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewLauncher", "", "failed to create client", ErrConnectionFailed)
	}

	return &Launcher{
		cli:        cli,
		logger:     logger.With("component", "docker_launcher", "run_id", runID),
		runID:      runID,
		containers: make(map[string]string),
	}, nil
}

// Ping checks that the Docker daemon is reachable.
func (l *Launcher) Ping(ctx context.Context) error {
	if _, err := l.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (l *Launcher) Close() error {
	return l.cli.Close()
}

// =============================================================================
// Launch
// =============================================================================

// Launch creates and starts the unit's container, emits Started, and leaves
// a watcher goroutine behind that reports health updates and the eventual
// exit through the sink. A returned error means the launch was rejected and
// no signals will follow.
func (l *Launcher) Launch(ctx context.Context, unit plan.Unit, sink runner.SignalSink) error {
	config, hostConfig := l.buildContainerSpec(unit)
	name := containerName(l.runID, unit.Name)

	resp, err := l.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return NewDockerError("Launch", unit.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return NewDockerError("Launch", unit.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return NewDockerError("Launch", unit.Name, err.Error(), err)
	}

	l.mu.Lock()
	l.containers[unit.Name] = resp.ID
	l.mu.Unlock()

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// A container that never started is just clutter; remove it.
		_ = l.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		l.mu.Lock()
		delete(l.containers, unit.Name)
		l.mu.Unlock()
		return NewDockerError("Launch", unit.Name, err.Error(), err)
	}

	l.logger.Debug("started container", "unit", unit.Name, "container_id", resp.ID[:12])
	sink.Signal(unit.Name, state.Started())

	go l.watch(ctx, unit, resp.ID, sink)
	return nil
}

// watch follows one container until it exits or the run is canceled. Health
// status is polled via inspect (the same idiom as waiting for a deployment
// to become healthy); the exit code comes from the wait API.
func (l *Launcher) watch(ctx context.Context, unit plan.Unit, containerID string, sink runner.SignalSink) {
	waitCh, errCh := l.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if unit.HasHealthCheck() {
		ticker = time.NewTicker(healthInterval(unit.HealthCheck))
		defer ticker.Stop()
		tick = ticker.C
	}

	lastHealth := ""
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				l.logger.Warn("container wait failed", "unit", unit.Name, "error", err)
			}
			return
		case resp := <-waitCh:
			l.logger.Debug("container exited", "unit", unit.Name, "exit_code", resp.StatusCode)
			sink.Signal(unit.Name, state.Exited(int(resp.StatusCode)))
			return
		case <-tick:
			health, err := l.inspectHealth(ctx, containerID)
			if err != nil || health == lastHealth {
				continue
			}
			lastHealth = health
			switch health {
			case "healthy":
				sink.Signal(unit.Name, state.HealthUpdate(true))
			case "unhealthy":
				sink.Signal(unit.Name, state.HealthUpdate(false))
			}
		}
	}
}

// inspectHealth returns the container's current health status string
// ("starting", "healthy", "unhealthy"), or empty if no health state exists.
func (l *Launcher) inspectHealth(ctx context.Context, containerID string) (string, error) {
	resp, err := l.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if resp.State == nil || resp.State.Health == nil {
		return "", nil
	}
	return resp.State.Health.Status, nil
}

// =============================================================================
// Stop & Teardown
// =============================================================================

// Stop best-effort stops the unit's container with the grace timeout.
func (l *Launcher) Stop(ctx context.Context, unit string) error {
	l.mu.Lock()
	containerID, ok := l.containers[unit]
	l.mu.Unlock()
	if !ok {
		return NewDockerError("Stop", unit, "no container for unit", ErrContainerNotFound)
	}

	seconds := int(stopGraceTimeout.Seconds())
	err := l.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("Stop", unit, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("Stop", unit, err.Error(), err)
	}
	return nil
}

// Teardown stops and removes every container this launcher created.
func (l *Launcher) Teardown(ctx context.Context) {
	l.mu.Lock()
	containers := make(map[string]string, len(l.containers))
	for unit, id := range l.containers {
		containers[unit] = id
	}
	l.mu.Unlock()

	seconds := int(stopGraceTimeout.Seconds())
	for unit, id := range containers {
		_ = l.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds})
		if err := l.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			l.logger.Warn("failed to remove container", "unit", unit, "error", err)
			continue
		}
		l.logger.Debug("removed container", "unit", unit, "container_id", id[:12])
	}
}

// =============================================================================
// Container Spec
// =============================================================================

// buildContainerSpec maps a unit definition onto Docker create parameters.
func (l *Launcher) buildContainerSpec(unit plan.Unit) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:      unit.Image,
		Cmd:        unit.Command,
		Entrypoint: unit.Entrypoint,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelRun:     l.runID,
			LabelUnit:    unit.Name,
		},
	}

	for k, v := range unit.Labels {
		config.Labels[k] = v
	}
	for k, v := range unit.Environment {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	// Port bindings
	if len(unit.Ports) > 0 {
		exposedPorts := nat.PortSet{}
		portBindings := nat.PortMap{}
		for _, p := range unit.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.Target, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.Published != 0 {
				hostPort = fmt.Sprintf("%d", p.Published)
			}
			portBindings[containerPort] = []nat.PortBinding{
				{HostIP: p.HostIP, HostPort: hostPort},
			}
		}
		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	// Restart policy
	if unit.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(unit.Restart),
		}
	}

	// Health check
	if unit.HealthCheck != nil {
		hc := &container.HealthConfig{
			Test:    unit.HealthCheck.Test,
			Retries: unit.HealthCheck.Retries,
		}
		if d, err := time.ParseDuration(unit.HealthCheck.Interval); err == nil {
			hc.Interval = d
		}
		if d, err := time.ParseDuration(unit.HealthCheck.Timeout); err == nil {
			hc.Timeout = d
		}
		if d, err := time.ParseDuration(unit.HealthCheck.StartPeriod); err == nil {
			hc.StartPeriod = d
		}
		config.Healthcheck = hc
	}

	return config, hostConfig
}

// healthInterval picks the poll interval for health status.
func healthInterval(hc *plan.HealthCheck) time.Duration {
	if hc != nil && hc.Interval != "" {
		if d, err := time.ParseDuration(hc.Interval); err == nil && d > 0 {
			return d
		}
	}
	return defaultHealthInterval
}

// containerName builds the container name for a unit within a run.
func containerName(runID, unit string) string {
	return fmt.Sprintf("stackup_%s_%s", runID, unit)
}
