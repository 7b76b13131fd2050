package api

import (
	"time"

	"github.com/artpar/stackup/internal/shell/store"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateRunRequest is the payload for submitting a new run.
type CreateRunRequest struct {
	// PlanName labels the run; defaults to "default" when empty.
	PlanName string `json:"plan_name"`

	// ComposeSpec is the raw Compose YAML defining units and dependencies.
	ComposeSpec string `json:"compose_spec"`
}

// =============================================================================
// Response Types
// =============================================================================

// RunResponse describes one run.
type RunResponse struct {
	ID         string          `json:"id"`
	PlanName   string          `json:"plan_name"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Units      []store.RunUnit `json:"units,omitempty"`
}

// RunListResponse is the payload for listing runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// RunEventsResponse is the payload for a run's transition log.
type RunEventsResponse struct {
	RunID  string           `json:"run_id"`
	Events []store.RunEvent `json:"events"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the payload for the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the payload for the readiness endpoint.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
