package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

type runRow struct {
	ID          string  `db:"id"`
	PlanName    string  `db:"plan_name"`
	ComposeSpec string  `db:"compose_spec"`
	Status      string  `db:"status"`
	CreatedAt   string  `db:"created_at"`
	FinishedAt  *string `db:"finished_at"`
}

type runUnitRow struct {
	RunID     string  `db:"run_id"`
	Unit      string  `db:"unit"`
	Phase     string  `db:"phase"`
	ExitCode  int     `db:"exit_code"`
	Reason    string  `db:"reason"`
	StartedAt *string `db:"started_at"`
	SettledAt *string `db:"settled_at"`
}

type runEventRow struct {
	RunID     string `db:"run_id"`
	Seq       int    `db:"seq"`
	Unit      string `db:"unit"`
	FromPhase string `db:"from_phase"`
	ToPhase   string `db:"to_phase"`
	ExitCode  int    `db:"exit_code"`
	Reason    string `db:"reason"`
	At        string `db:"at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return t, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// Run Operations
// =============================================================================

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	row := runRow{
		ID:          run.ID,
		PlanName:    run.PlanName,
		ComposeSpec: run.ComposeSpec,
		Status:      run.Status,
		CreatedAt:   formatTime(run.CreatedAt),
		FinishedAt:  formatTimePtr(run.FinishedAt),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, plan_name, compose_spec, status, created_at, finished_at)
		VALUES (:id, :plan_name, :compose_spec, :status, :created_at, :finished_at)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateRun", "run", run.ID, "run already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return NewStoreError("UpdateRunStatus", "run", id, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRunStatus", "run", id, "run not found", ErrNotFound)
	}
	return nil
}

// FinishRun records the final status and per-unit results of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, finishedAt time.Time, units []RunUnit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, formatTime(finishedAt), id)
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("FinishRun", "run", id, "run not found", ErrNotFound)
	}

	for _, u := range units {
		row := runUnitRow{
			RunID:     id,
			Unit:      u.Unit,
			Phase:     u.Phase,
			ExitCode:  u.ExitCode,
			Reason:    u.Reason,
			StartedAt: formatTimePtr(u.StartedAt),
			SettledAt: formatTimePtr(u.SettledAt),
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_units (run_id, unit, phase, exit_code, reason, started_at, settled_at)
			VALUES (:run_id, :unit, :phase, :exit_code, :reason, :started_at, :settled_at)`, row)
		if err != nil {
			return NewStoreError("FinishRun", "run_unit", u.Unit, err.Error(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	return nil
}

// GetRun returns a single run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	run, err := rowToRun(row)
	if err != nil {
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, NewStoreError("ListRuns", "run", row.ID, err.Error(), err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func rowToRun(row runRow) (Run, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return Run{}, err
	}
	finishedAt, err := parseTimePtr(row.FinishedAt)
	if err != nil {
		return Run{}, err
	}
	return Run{
		ID:          row.ID,
		PlanName:    row.PlanName,
		ComposeSpec: row.ComposeSpec,
		Status:      row.Status,
		CreatedAt:   createdAt,
		FinishedAt:  finishedAt,
	}, nil
}

// =============================================================================
// Unit & Event Operations
// =============================================================================

// ListRunUnits returns the final unit states for a run, sorted by unit name.
func (s *SQLiteStore) ListRunUnits(ctx context.Context, runID string) ([]RunUnit, error) {
	var rows []runUnitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM run_units WHERE run_id = ? ORDER BY unit`, runID)
	if err != nil {
		return nil, NewStoreError("ListRunUnits", "run_unit", runID, err.Error(), err)
	}

	units := make([]RunUnit, 0, len(rows))
	for _, row := range rows {
		startedAt, err := parseTimePtr(row.StartedAt)
		if err != nil {
			return nil, NewStoreError("ListRunUnits", "run_unit", runID, err.Error(), err)
		}
		settledAt, err := parseTimePtr(row.SettledAt)
		if err != nil {
			return nil, NewStoreError("ListRunUnits", "run_unit", runID, err.Error(), err)
		}
		units = append(units, RunUnit{
			RunID:     row.RunID,
			Unit:      row.Unit,
			Phase:     row.Phase,
			ExitCode:  row.ExitCode,
			Reason:    row.Reason,
			StartedAt: startedAt,
			SettledAt: settledAt,
		})
	}
	return units, nil
}

// AppendRunEvent appends one transition event to a run's audit trail.
func (s *SQLiteStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	row := runEventRow{
		RunID:     event.RunID,
		Seq:       event.Seq,
		Unit:      event.Unit,
		FromPhase: event.FromPhase,
		ToPhase:   event.ToPhase,
		ExitCode:  event.ExitCode,
		Reason:    event.Reason,
		At:        formatTime(event.At),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, unit, from_phase, to_phase, exit_code, reason, at)
		VALUES (:run_id, :seq, :unit, :from_phase, :to_phase, :exit_code, :reason, :at)`, row)
	if err != nil {
		return NewStoreError("AppendRunEvent", "run_event", event.RunID, err.Error(), err)
	}
	return nil
}

// ListRunEvents returns a run's transitions in the order they were recorded.
func (s *SQLiteStore) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	var rows []runEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, NewStoreError("ListRunEvents", "run_event", runID, err.Error(), err)
	}

	events := make([]RunEvent, 0, len(rows))
	for _, row := range rows {
		at, err := parseTime(row.At)
		if err != nil {
			return nil, NewStoreError("ListRunEvents", "run_event", runID, err.Error(), err)
		}
		events = append(events, RunEvent{
			RunID:     row.RunID,
			Seq:       row.Seq,
			Unit:      row.Unit,
			FromPhase: row.FromPhase,
			ToPhase:   row.ToPhase,
			ExitCode:  row.ExitCode,
			Reason:    row.Reason,
			At:        at,
		})
	}
	return events, nil
}
