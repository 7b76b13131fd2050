package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/stackup/internal/shell/api"
	"github.com/artpar/stackup/internal/shell/store"
)

// =============================================================================
// HTTP Helpers
// =============================================================================

// HTTPGet performs a GET request and fails the test on transport errors.
func HTTPGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := testClient.Get(url)
	require.NoError(t, err)
	return resp
}

// HTTPPostJSON performs a POST with a JSON body.
func HTTPPostJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := testClient.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

// DecodeJSON decodes a response body into v and closes the body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// =============================================================================
// Run Helpers
// =============================================================================

// SubmitRun posts a compose spec and returns the created run.
func SubmitRun(t *testing.T, planName, composeSpec string) api.RunResponse {
	t.Helper()
	resp := HTTPPostJSON(t, baseURL+"/api/v1/runs", api.CreateRunRequest{
		PlanName:    planName,
		ComposeSpec: composeSpec,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run api.RunResponse
	DecodeJSON(t, resp, &run)
	require.NotEmpty(t, run.ID)
	return run
}

// GetRun fetches a run by ID.
func GetRun(t *testing.T, runID string) api.RunResponse {
	t.Helper()
	resp := HTTPGet(t, baseURL+"/api/v1/runs/"+runID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run api.RunResponse
	DecodeJSON(t, resp, &run)
	return run
}

// WaitForRunTerminal polls a run until it leaves pending/running or the
// timeout expires.
func WaitForRunTerminal(t *testing.T, runID string, timeout time.Duration) api.RunResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run := GetRun(t, runID)
		switch run.Status {
		case store.RunStatusPending, store.RunStatusRunning:
			time.Sleep(250 * time.Millisecond)
		default:
			return run
		}
	}
	t.Fatalf("run %s did not settle within %s", runID, timeout)
	return api.RunResponse{}
}
