// Package stores persists workflow run history in SQLite.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/a-ludi/dentist-workflow/pkg/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds history store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// HistoryStore records workflow runs and their job results. It implements
// workflow.RunRecorder.
type HistoryStore struct {
	db  *sql.DB
	cfg Config
}

// NewHistoryStore creates a history store instance. Call Init before use.
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &HistoryStore{cfg: cfg}, nil
}

// Open creates, initializes, and migrates a history store in one step.
func Open(ctx context.Context, path string) (*HistoryStore, error) {
	store, err := NewHistoryStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection and enables WAL mode.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate",
		s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies pending schema migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// StartRun records the beginning of a workflow run.
func (s *HistoryStore) StartRun(ctx context.Context, run *workflow.RunRecord) error {
	query := `
		INSERT INTO runs (id, workflow, status, started_at, executed, failed, skipped)
		VALUES (?, ?, ?, ?, 0, 0, 0)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Workflow, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordJob records the result of a single job.
func (s *HistoryStore) RecordJob(ctx context.Context, rec *workflow.JobRecord) error {
	query := `
		INSERT INTO job_results (run_id, full_name, state, exit_code, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.RunID, rec.FullName, rec.State, rec.ExitCode, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record job result: %w", err)
	}
	return nil
}

// CompleteRun records the final state and counters of a run.
func (s *HistoryStore) CompleteRun(ctx context.Context, run *workflow.RunRecord) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, executed = ?, failed = ?, skipped = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		run.Status, run.CompletedAt, run.Executed, run.Failed, run.Skipped, run.ID)
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *HistoryStore) GetRun(ctx context.Context, id string) (*workflow.RunRecord, error) {
	query := `
		SELECT id, workflow, status, started_at, completed_at, executed, failed, skipped
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, limit int) ([]*workflow.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, workflow, status, started_at, completed_at, executed, failed, skipped
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListJobs returns the job results of a run in recording order.
func (s *HistoryStore) ListJobs(ctx context.Context, runID string) ([]*workflow.JobRecord, error) {
	query := `
		SELECT run_id, full_name, state, exit_code, duration_ms
		FROM job_results
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job results: %w", err)
	}
	defer rows.Close()

	var jobs []*workflow.JobRecord
	for rows.Next() {
		rec := &workflow.JobRecord{}
		var durationMS int64
		err := rows.Scan(&rec.RunID, &rec.FullName, &rec.State, &rec.ExitCode, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job result: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*workflow.RunRecord, error) {
	run := &workflow.RunRecord{}
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.Workflow,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&run.Executed,
		&run.Failed,
		&run.Skipped,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return run, nil
}
