package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) *Run {
	return &Run{
		ID:          id,
		PlanName:    "web-stack",
		ComposeSpec: "services:\n  app:\n    image: nginx\n",
		Status:      RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// Run CRUD Tests
// =============================================================================

func TestSQLiteStore_CreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("run_abc12345")
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run_abc12345")
	require.NoError(t, err)
	assert.Equal(t, "run_abc12345", got.ID)
	assert.Equal(t, "web-stack", got.PlanName)
	assert.Equal(t, run.ComposeSpec, got.ComposeSpec)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
	assert.Nil(t, got.FinishedAt)
}

func TestSQLiteStore_CreateRun_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_dup")))
	err := s.CreateRun(ctx, testRun("run_dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestSQLiteStore_GetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "run_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateRunStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_upd")))
	require.NoError(t, s.UpdateRunStatus(ctx, "run_upd", RunStatusRunning))

	got, err := s.GetRun(ctx, "run_upd")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
}

func TestSQLiteStore_UpdateRunStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRunStatus(context.Background(), "run_missing", RunStatusRunning)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testRun("run_old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testRun("run_new")

	require.NoError(t, s.CreateRun(ctx, older))
	require.NoError(t, s.CreateRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_new", runs[0].ID)
	assert.Equal(t, "run_old", runs[1].ID)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run_new", limited[0].ID)
}

// =============================================================================
// Finish Run Tests
// =============================================================================

func TestSQLiteStore_FinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_fin")))

	started := time.Now().UTC().Add(-30 * time.Second)
	settled := time.Now().UTC()
	units := []RunUnit{
		{RunID: "run_fin", Unit: "db", Phase: "started", StartedAt: &started},
		{RunID: "run_fin", Unit: "migrate", Phase: "exited", ExitCode: 0, StartedAt: &started, SettledAt: &settled},
		{RunID: "run_fin", Unit: "api", Phase: "skipped", Reason: "dependency db can no longer be satisfied", SettledAt: &settled},
	}
	finishedAt := time.Now().UTC()
	require.NoError(t, s.FinishRun(ctx, "run_fin", RunStatusPartialFailure, finishedAt, units))

	got, err := s.GetRun(ctx, "run_fin")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPartialFailure, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, finishedAt, *got.FinishedAt, time.Second)

	stored, err := s.ListRunUnits(ctx, "run_fin")
	require.NoError(t, err)
	require.Len(t, stored, 3)

	// Units come back sorted by name.
	assert.Equal(t, "api", stored[0].Unit)
	assert.Equal(t, "skipped", stored[0].Phase)
	assert.NotEmpty(t, stored[0].Reason)
	assert.Equal(t, "db", stored[1].Unit)
	require.NotNil(t, stored[1].StartedAt)
	assert.Nil(t, stored[1].SettledAt)
	assert.Equal(t, "migrate", stored[2].Unit)
	assert.Equal(t, 0, stored[2].ExitCode)
}

func TestSQLiteStore_FinishRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), "run_missing", RunStatusSuccess, time.Now().UTC(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Event Log Tests
// =============================================================================

func TestSQLiteStore_AppendAndListRunEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_evt")))

	now := time.Now().UTC()
	events := []RunEvent{
		{RunID: "run_evt", Seq: 0, Unit: "db", FromPhase: "pending", ToPhase: "starting", At: now},
		{RunID: "run_evt", Seq: 1, Unit: "db", FromPhase: "starting", ToPhase: "started", At: now.Add(time.Second)},
		{RunID: "run_evt", Seq: 2, Unit: "db", FromPhase: "started", ToPhase: "exited", ExitCode: 1, At: now.Add(2 * time.Second)},
	}
	for i := range events {
		require.NoError(t, s.AppendRunEvent(ctx, &events[i]))
	}

	got, err := s.ListRunEvents(ctx, "run_evt")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by sequence number.
	for i, evt := range got {
		assert.Equal(t, i, evt.Seq)
		assert.Equal(t, "db", evt.Unit)
	}
	assert.Equal(t, "starting", got[0].ToPhase)
	assert.Equal(t, 1, got[2].ExitCode)
}

func TestSQLiteStore_ListRunEvents_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_noevt")))
	got, err := s.ListRunEvents(ctx, "run_noevt")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_GetRun_CorruptTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run_bad")))
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET created_at = 'not-a-timestamp' WHERE id = ?`, "run_bad")
	require.NoError(t, err)

	_, err = s.GetRun(ctx, "run_bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	_, err = s.ListRuns(ctx, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
