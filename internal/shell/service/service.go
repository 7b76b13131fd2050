// Package service coordinates run execution with persistence: it accepts
// Compose specs, validates them, executes them asynchronously against the
// Docker launcher, and records history in the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stackup/internal/core/graph"
	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/shell/docker"
	"github.com/artpar/stackup/internal/shell/runner"
	"github.com/artpar/stackup/internal/shell/store"
)

// =============================================================================
// Service Errors
// =============================================================================

var (
	// ErrRunNotActive is returned when canceling a run that is not executing.
	ErrRunNotActive = errors.New("run is not active")
)

// =============================================================================
// Service
// =============================================================================

// Service owns the lifecycle of runs: validation, async execution,
// cancellation, and history queries.
type Service struct {
	store      store.Store
	dockerHost string
	runTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService creates a run service. runTimeout bounds each run's execution;
// zero means no deadline.
func NewService(s store.Store, dockerHost string, runTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		dockerHost: dockerHost,
		runTimeout: runTimeout,
		logger:     logger.With("component", "run_service"),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// =============================================================================
// Start Run
// =============================================================================

// StartRun parses and validates a Compose spec, persists a pending run, and
// executes it in the background. Parse and graph build errors are returned
// synchronously; nothing is started and nothing is persisted for an invalid
// spec.
func (s *Service) StartRun(ctx context.Context, planName, composeYAML string) (*store.Run, error) {
	p, err := plan.Parse(planName, composeYAML)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if _, err := graph.Build(p.Units); err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}

	run := &store.Run{
		ID:          "run_" + uuid.New().String()[:8],
		PlanName:    p.Name,
		ComposeSpec: composeYAML,
		Status:      store.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if s.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("run accepted", "run_id", run.ID, "plan", p.Name, "units", len(p.Units))
	go s.execute(runCtx, run.ID, p)

	return run, nil
}

// execute runs the plan to completion and records the outcome.
func (s *Service) execute(ctx context.Context, runID string, p *plan.Plan) {
	defer s.release(runID)

	logger := s.logger.With("run_id", runID)

	launcher, err := docker.NewLauncher(s.dockerHost, runID, logger)
	if err != nil {
		logger.Error("failed to create launcher", "error", err)
		_ = s.store.UpdateRunStatus(context.Background(), runID, store.RunStatusFailed)
		return
	}
	defer launcher.Close()

	r := runner.NewRunner(launcher, logger)

	// Persist transitions as they happen so the event log is live, not
	// only written at the end.
	events, unsubscribe := r.Subscribe()
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		seq := 0
		for tr := range events {
			event := &store.RunEvent{
				RunID:     runID,
				Seq:       seq,
				Unit:      tr.Unit,
				FromPhase: string(tr.From),
				ToPhase:   string(tr.To),
				ExitCode:  tr.ExitCode,
				Reason:    tr.Reason,
				At:        tr.At,
			}
			if err := s.store.AppendRunEvent(context.Background(), event); err != nil {
				logger.Warn("failed to record run event", "error", err)
			}
			seq++
		}
	}()

	_ = s.store.UpdateRunStatus(context.Background(), runID, store.RunStatusRunning)

	outcome, err := r.Up(ctx, p)

	unsubscribe()
	<-recorded

	if err != nil {
		// Build errors were checked in StartRun; reaching this is a bug in
		// the plan pipeline, not a runtime failure.
		logger.Error("run execution failed", "error", err)
		_ = s.store.UpdateRunStatus(context.Background(), runID, store.RunStatusFailed)
		return
	}

	units := make([]store.RunUnit, 0, len(outcome.Units))
	for name, us := range outcome.Units {
		units = append(units, store.RunUnit{
			RunID:     runID,
			Unit:      name,
			Phase:     string(us.Phase),
			ExitCode:  us.ExitCode,
			Reason:    us.Reason,
			StartedAt: us.StartedAt,
			SettledAt: us.SettledAt,
		})
	}

	status := outcomeStatus(outcome)
	if err := s.store.FinishRun(context.Background(), runID, status, outcome.FinishedAt, units); err != nil {
		logger.Error("failed to record run outcome", "error", err)
		return
	}

	logger.Info("run recorded", "status", status, "failed_units", outcome.FailedUnits())
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[runID]; ok {
		delete(s.cancels, runID)
		cancel()
	}
	s.mu.Unlock()
}

func outcomeStatus(o *runner.Outcome) string {
	switch o.Status {
	case runner.StatusSuccess:
		return store.RunStatusSuccess
	case runner.StatusCanceled:
		return store.RunStatusCanceled
	default:
		return store.RunStatusPartialFailure
	}
}

// =============================================================================
// Cancel Run
// =============================================================================

// CancelRun requests cancellation of an executing run. The scheduler stops
// issuing launches; units already started keep running.
func (s *Service) CancelRun(runID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	cancel()
	s.logger.Info("run cancellation requested", "run_id", runID)
	return nil
}

// CancelAll cancels every executing run. Used during shutdown.
func (s *Service) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetRun returns a run by ID.
func (s *Service) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns the most recent runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// ListRunUnits returns the final unit states of a run.
func (s *Service) ListRunUnits(ctx context.Context, runID string) ([]store.RunUnit, error) {
	return s.store.ListRunUnits(ctx, runID)
}

// ListRunEvents returns a run's transition log.
func (s *Service) ListRunEvents(ctx context.Context, runID string) ([]store.RunEvent, error) {
	return s.store.ListRunEvents(ctx, runID)
}
