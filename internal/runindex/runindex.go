// Package runindex persists run and per-day outcomes in a SQLite database
// next to the output directory. The "latest" pointer is a row in its own
// table, updated when a run completes.
package runindex

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound marks a missing run id or an empty latest pointer.
var ErrNotFound = errors.New("runindex: run not found")

// Run statuses.
const (
	StatusRunning = "running"
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusPartial = "partial"
)

// Run is one analysis run.
type Run struct {
	ID         string
	CreatedAt  time.Time
	FinishedAt *time.Time
	Status     string
	OutputDir  string
	ConfigJSON string
	AppVersion string
	Days       []DayRecord
}

// DayRecord is one day's outcome within a run.
type DayRecord struct {
	Day         string
	Status      string
	NBins       int
	NWindows    int
	NEncounters int
	MaxRelErr   float64
	Error       string
}

// Store wraps the SQLite run index.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run index at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent day recording.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the index database is reachable. The diagnostics server
// uses it as the readiness check for the serve command.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping run index: %w", err)
	}

	return nil
}

// CreateRun registers a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, status, output_dir, config_json, app_version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), StatusRunning,
		run.OutputDir, run.ConfigJSON, run.AppVersion)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}

	return nil
}

// RecordDay upserts one day's outcome for the run.
func (s *Store) RecordDay(ctx context.Context, runID string, d DayRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_days (run_id, day, status, n_bins, n_windows, n_encounters, max_rel_err, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, day) DO UPDATE SET
		   status = excluded.status,
		   n_bins = excluded.n_bins,
		   n_windows = excluded.n_windows,
		   n_encounters = excluded.n_encounters,
		   max_rel_err = excluded.max_rel_err,
		   error = excluded.error`,
		runID, d.Day, d.Status, d.NBins, d.NWindows, d.NEncounters, d.MaxRelErr, d.Error)
	if err != nil {
		return fmt.Errorf("record day %s of run %s: %w", d.Day, runID, err)
	}

	return nil
}

// FinishRun stores the run's final status. Completed runs (pass or partial)
// become the latest pointer.
func (s *Store) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, finishedAt.UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}

	if status == StatusPass || status == StatusPartial {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO latest (id, run_id) VALUES (1, ?)
			 ON CONFLICT (id) DO UPDATE SET run_id = excluded.run_id`,
			runID)
		if err != nil {
			return fmt.Errorf("update latest pointer: %w", err)
		}
	}

	return nil
}

// GetRun loads a run with its day records.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, finished_at, status, output_dir, config_json, app_version
		 FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT day, status, n_bins, n_windows, n_encounters, max_rel_err, error
		 FROM run_days WHERE run_id = ? ORDER BY day`, runID)
	if err != nil {
		return nil, fmt.Errorf("load days of run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DayRecord

		err = rows.Scan(&d.Day, &d.Status, &d.NBins, &d.NWindows, &d.NEncounters, &d.MaxRelErr, &d.Error)
		if err != nil {
			return nil, fmt.Errorf("scan day of run %s: %w", runID, err)
		}

		run.Days = append(run.Days, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate days of run %s: %w", runID, err)
	}

	return run, nil
}

// ListRuns returns all runs, newest first, without day records.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, finished_at, status, output_dir, config_json, app_version
		 FROM runs ORDER BY created_at DESC, run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LatestRun resolves the latest pointer to its run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var runID string

	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM latest WHERE id = 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}

	return s.GetRun(ctx, runID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		createdAt  string
		finishedAt sql.NullString
	)

	err := row.Scan(&run.ID, &createdAt, &finishedAt, &run.Status,
		&run.OutputDir, &run.ConfigJSON, &run.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of run %s: %w", run.ID, err)
	}

	if finishedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339Nano, finishedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parse finished_at of run %s: %w", run.ID, parseErr)
		}

		run.FinishedAt = &t
	}

	return &run, nil
}
