// Package api provides HTTP handlers for the stackup API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/stackup/internal/core/graph"
	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/shell/service"
	"github.com/artpar/stackup/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

const defaultListLimit = 50

// Handler provides HTTP handlers for the API.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		service: svc,
		logger:  l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.handleCreateRun)
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
			r.Get("/{id}/events", h.handleListRunEvents)
			r.Post("/{id}/cancel", h.handleCancelRun)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// Check database: list with limit 1 exercises the connection.
	if _, err := h.service.ListRuns(r.Context(), 1); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if req.ComposeSpec == "" {
		h.writeError(w, http.StatusBadRequest, "compose_spec is required", "validation_error")
		return
	}
	if req.PlanName == "" {
		req.PlanName = "default"
	}

	run, err := h.service.StartRun(r.Context(), req.PlanName, req.ComposeSpec)
	if err != nil {
		var parseErr *plan.ParseError
		var buildErr *graph.BuildError
		switch {
		case errors.As(err, &parseErr), errors.As(err, &buildErr):
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		default:
			h.logger.Error("failed to start run", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to start run", "internal_error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, runToResponse(run, nil))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := RunListResponse{
		Runs:  make([]RunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i], nil))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	units, err := h.service.ListRunUnits(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list run units", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run, units))
}

func (h *Handler) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.service.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	events, err := h.service.ListRunEvents(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list run events", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list run events", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, RunEventsResponse{
		RunID:  id,
		Events: events,
	})
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.service.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel run", "internal_error")
		return
	}

	if err := h.service.CancelRun(id); err != nil {
		if errors.Is(err, service.ErrRunNotActive) {
			h.writeError(w, http.StatusConflict, "run is not active", "run_not_active")
			return
		}
		h.logger.Error("failed to cancel run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "canceling",
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func runToResponse(run *store.Run, units []store.RunUnit) RunResponse {
	return RunResponse{
		ID:         run.ID,
		PlanName:   run.PlanName,
		Status:     run.Status,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
		Units:      units,
	}
}
