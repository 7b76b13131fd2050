package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/stackup/internal/shell/service"
	"github.com/artpar/stackup/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc := service.NewService(s, "", 0, nil)
	return NewHandler(svc, nil), s
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func seedRun(t *testing.T, s store.Store, id, status string) {
	t.Helper()
	require.NoError(t, s.CreateRun(context.Background(), &store.Run{
		ID:        id,
		PlanName:  "seeded",
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}))
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHandler_Health(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHandler_Ready(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/ready", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}

// =============================================================================
// Create Run Tests
// =============================================================================

func TestHandler_CreateRun_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestHandler_CreateRun_MissingSpec(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs", CreateRunRequest{PlanName: "x"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestHandler_CreateRun_InvalidCompose(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		PlanName:    "bad",
		ComposeSpec: "services:\n  app:\n    command: [echo]\n",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestHandler_CreateRun_CyclicDependencies(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		PlanName: "cyclic",
		ComposeSpec: `
services:
  a:
    image: nginx
    depends_on: [b]
  b:
    image: nginx
    depends_on: [a]
`,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_error", resp.Code)
}

func TestHandler_CreateRun_Accepted(t *testing.T) {
	h, s := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		PlanName:    "web",
		ComposeSpec: "services:\n  app:\n    image: nginx:latest\n",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "web", resp.PlanName)

	// The run record exists immediately; execution is asynchronous.
	got, err := s.GetRun(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", got.PlanName)
}

// =============================================================================
// Get / List Run Tests
// =============================================================================

func TestHandler_GetRun_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/run_missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestHandler_GetRun(t *testing.T) {
	h, s := newTestHandler(t)
	seedRun(t, s, "run_get1", store.RunStatusSuccess)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/run_get1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run_get1", resp.ID)
	assert.Equal(t, store.RunStatusSuccess, resp.Status)
}

func TestHandler_ListRuns(t *testing.T) {
	h, s := newTestHandler(t)
	seedRun(t, s, "run_l1", store.RunStatusSuccess)
	seedRun(t, s, "run_l2", store.RunStatusPartialFailure)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Runs, 2)
}

func TestHandler_ListRuns_InvalidLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs?limit=zero", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestHandler_ListRunEvents(t *testing.T) {
	h, s := newTestHandler(t)
	seedRun(t, s, "run_ev1", store.RunStatusSuccess)
	require.NoError(t, s.AppendRunEvent(context.Background(), &store.RunEvent{
		RunID: "run_ev1", Seq: 0, Unit: "app",
		FromPhase: "pending", ToPhase: "starting", At: time.Now().UTC(),
	}))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/run_ev1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunEventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run_ev1", resp.RunID)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "app", resp.Events[0].Unit)
}

func TestHandler_ListRunEvents_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/run_missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Cancel Run Tests
// =============================================================================

func TestHandler_CancelRun_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs/run_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CancelRun_NotActive(t *testing.T) {
	h, s := newTestHandler(t)
	seedRun(t, s, "run_done", store.RunStatusSuccess)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/runs/run_done/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_not_active", decodeError(t, rec).Code)
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestHandler_RequestIDHeader(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
