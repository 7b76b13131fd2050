package store

import (
	"context"
	"time"
)

// =============================================================================
// Run Records
// =============================================================================

// Run statuses as stored. Pending and running runs are still executing;
// the rest mirror the plan outcome.
const (
	RunStatusPending        = "pending"
	RunStatusRunning        = "running"
	RunStatusSuccess        = "success"
	RunStatusPartialFailure = "partial_failure"
	RunStatusCanceled       = "canceled"
	RunStatusFailed         = "failed"
)

// Run is one orchestration run.
type Run struct {
	ID          string     `json:"id"`
	PlanName    string     `json:"plan_name"`
	ComposeSpec string     `json:"compose_spec,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunUnit is the final recorded state of one unit within a run.
type RunUnit struct {
	RunID     string     `json:"run_id"`
	Unit      string     `json:"unit"`
	Phase     string     `json:"phase"`
	ExitCode  int        `json:"exit_code"`
	Reason    string     `json:"reason,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// RunEvent is one recorded phase transition within a run, ordered by Seq.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Unit      string    `json:"unit"`
	FromPhase string    `json:"from"`
	ToPhase   string    `json:"to"`
	ExitCode  int       `json:"exit_code"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// =============================================================================
// Store Interface
// =============================================================================

// Store persists run history. The orchestration core itself is in-memory;
// this is the external collaborator that remembers runs across calls.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, id, status string, finishedAt time.Time, units []RunUnit) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Unit and event operations
	ListRunUnits(ctx context.Context, runID string) ([]RunUnit, error)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error)

	// Close closes the store.
	Close() error
}
