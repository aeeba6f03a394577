// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"cloudshift/internal/config"
)

// Auditor defines the contract for recording execution audit data.
type Auditor interface {
	// StartExecution creates an audit_log row and returns its ID and generated run UUID.
	StartExecution(ctx context.Context, cmd string, cfg *config.Config) (executionID int64, runID string, err error)
	// CompleteExecution finalises the audit_log row with status and optional error summary.
	CompleteExecution(ctx context.Context, id int64, status string, errSummary string) error
	// RecordRunCounts stores the pipeline summary on the audit_log row.
	RecordRunCounts(ctx context.Context, id int64, c RunCounts) error
	// LinkCleanupToRuns sets linked_run_ids on a cleanup audit_log row.
	LinkCleanupToRuns(ctx context.Context, cleanupID int64, runIDs []string) error
	// RecordCleanupCounts updates cleanup-specific counters on the audit_log row.
	RecordCleanupCounts(ctx context.Context, id int64, c CleanupCounts) error

	// RecordWave inserts or updates a wave_details row.
	RecordWave(ctx context.Context, executionID int64, w WaveRecord) error
	// RecordUnit inserts or updates a unit_details row.
	RecordUnit(ctx context.Context, executionID int64, u UnitRecord) error
	// RecordPhaseResult inserts a phase_results row.
	RecordPhaseResult(ctx context.Context, executionID int64, r PhaseResultRecord) error
	// RecordDrift inserts a drift_reports row.
	RecordDrift(ctx context.Context, executionID int64, d DriftRecord) error

	// RecordEvent inserts an events row.
	RecordEvent(ctx context.Context, executionID int64, e EventRecord) error

	// Close releases database resources.
	Close() error
}

// SQLiteAuditor implements Auditor backed by a SQLite database.
type SQLiteAuditor struct {
	db *sql.DB
}

// NewSQLiteAuditor opens (or creates) the SQLite database at dbPath and ensures
// the schema is applied.
func NewSQLiteAuditor(dbPath string) (*SQLiteAuditor, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit db directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?mode=memory&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	// Recorders write from every unit goroutine; one connection serializes
	// them and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying audit schema: %w", err)
	}

	return &SQLiteAuditor{db: db}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (a *SQLiteAuditor) StartExecution(ctx context.Context, cmd string, cfg *config.Config) (int64, string, error) {
	runID := uuid.New().String()

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			run_id, command, status, environment, location, plan_path,
			platform, provisioner, observer, namespace,
			wave_size, max_concurrency, max_retries, dry_run, started_at
		) VALUES (?, ?, 'in_progress', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, cmd, cfg.Environment, cfg.Location, nullIfEmpty(cfg.PlanPath),
		cfg.Platform, cfg.Provisioner, cfg.Observer, nullIfEmpty(cfg.Namespace),
		cfg.WaveSize, cfg.MaxConcurrency, cfg.MaxRetries, boolToInt(cfg.DryRun), now(),
	)
	if err != nil {
		return 0, "", fmt.Errorf("inserting audit_log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("getting audit_log id: %w", err)
	}
	return id, runID, nil
}

func (a *SQLiteAuditor) CompleteExecution(ctx context.Context, id int64, status string, errSummary string) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE audit_log SET status = ?, completed_at = ?, error_summary = ? WHERE id = ?`,
		status, now(), nullIfEmpty(errSummary), id)
	return err
}

func (a *SQLiteAuditor) RecordRunCounts(ctx context.Context, id int64, c RunCounts) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE audit_log SET unit_count = ?, wave_count = ?, units_completed = ?,
			units_failed = ?, units_rolled_back = ?, units_skipped = ?
		WHERE id = ?`,
		c.Units, c.Waves, c.Completed, c.Failed, c.RolledBack, c.Skipped, id)
	return err
}

func (a *SQLiteAuditor) LinkCleanupToRuns(ctx context.Context, cleanupID int64, runIDs []string) error {
	data, err := json.Marshal(runIDs)
	if err != nil {
		return fmt.Errorf("marshaling run IDs: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`UPDATE audit_log SET linked_run_ids = ? WHERE id = ?`,
		string(data), cleanupID)
	return err
}

func (a *SQLiteAuditor) RecordCleanupCounts(ctx context.Context, id int64, c CleanupCounts) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE audit_log SET vms_deleted = ?, data_volumes_deleted = ?, secrets_deleted = ?, namespace_deleted = ?
		WHERE id = ?`,
		c.VMsDeleted, c.DataVolumesDeleted, c.SecretsDeleted, boolToInt(c.NamespaceDeleted), id)
	return err
}

func (a *SQLiteAuditor) RecordWave(ctx context.Context, executionID int64, w WaveRecord) error {
	var startedAt, completedAt *string
	ts := now()
	if w.Finished {
		completedAt = &ts
	} else {
		startedAt = &ts
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO wave_details (
			audit_id, wave_index, unit_count, max_concurrency, independent, status,
			units_completed, units_rolled_back, error_detail, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(audit_id, wave_index) DO UPDATE SET
			status = excluded.status,
			units_completed = excluded.units_completed,
			units_rolled_back = excluded.units_rolled_back,
			error_detail = COALESCE(excluded.error_detail, wave_details.error_detail),
			started_at = COALESCE(wave_details.started_at, excluded.started_at),
			completed_at = COALESCE(excluded.completed_at, wave_details.completed_at)`,
		executionID, w.Index, w.UnitCount, w.MaxConcurrency, boolToInt(w.Independent), w.Status,
		w.Completed, w.RolledBack, nullIfEmpty(w.ErrorDetail), startedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("recording wave_details: %w", err)
	}
	return nil
}

func (a *SQLiteAuditor) RecordUnit(ctx context.Context, executionID int64, u UnitRecord) error {
	ts := now()
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO unit_details (
			audit_id, unit_id, os_family, size_class, source_env, phase,
			total_retries, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(audit_id, unit_id) DO UPDATE SET
			phase = excluded.phase,
			total_retries = excluded.total_retries,
			last_error = COALESCE(excluded.last_error, unit_details.last_error),
			updated_at = excluded.updated_at`,
		executionID, u.UnitID, u.OSFamily, nullIfEmpty(u.SizeClass), nullIfEmpty(u.SourceEnv), u.Phase,
		u.TotalRetries, nullIfEmpty(u.LastError), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("recording unit_details: %w", err)
	}
	return nil
}

func (a *SQLiteAuditor) RecordPhaseResult(ctx context.Context, executionID int64, r PhaseResultRecord) error {
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO phase_results (
			audit_id, unit_id, phase, attempt, success, duration_ms,
			error_kind, error_detail, retriable, terminal, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, r.UnitID, r.Phase, r.Attempt, boolToInt(r.Success), r.Duration.Milliseconds(),
		nullIfEmpty(r.ErrorKind), nullIfEmpty(r.ErrorDetail), boolToInt(r.Retriable), boolToInt(r.Terminal),
		finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting phase_results: %w", err)
	}
	return nil
}

func (a *SQLiteAuditor) RecordDrift(ctx context.Context, executionID int64, d DriftRecord) error {
	var keys *string
	if len(d.DifferingKeys) > 0 {
		data, err := json.Marshal(d.DifferingKeys)
		if err != nil {
			return fmt.Errorf("marshaling differing keys: %w", err)
		}
		s := string(data)
		keys = &s
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO drift_reports (audit_id, resource_name, resource_kind, has_drift, missing, differing_keys, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		executionID, d.ResourceName, nullIfEmpty(d.ResourceKind), boolToInt(d.HasDrift), boolToInt(d.Missing), keys, now(),
	)
	if err != nil {
		return fmt.Errorf("inserting drift_reports: %w", err)
	}
	return nil
}

func (a *SQLiteAuditor) RecordEvent(ctx context.Context, executionID int64, e EventRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO events (audit_id, unit_id, wave_index, event_type, message, error_detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		executionID, nullIfEmpty(e.UnitID), e.WaveIndex, e.EventType,
		nullIfEmpty(e.Message), nullIfEmpty(e.ErrorDetail), now(),
	)
	return err
}

// DB returns the underlying sql.DB for testing purposes.
func (a *SQLiteAuditor) DB() *sql.DB {
	return a.db
}

func (a *SQLiteAuditor) Close() error {
	return a.db.Close()
}

// NoOpAuditor is an Auditor that does nothing, used when auditing is disabled.
type NoOpAuditor struct{}

func (NoOpAuditor) StartExecution(_ context.Context, _ string, _ *config.Config) (int64, string, error) {
	return 0, "", nil
}
func (NoOpAuditor) CompleteExecution(_ context.Context, _ int64, _ string, _ string) error { return nil }
func (NoOpAuditor) RecordRunCounts(_ context.Context, _ int64, _ RunCounts) error          { return nil }
func (NoOpAuditor) LinkCleanupToRuns(_ context.Context, _ int64, _ []string) error         { return nil }
func (NoOpAuditor) RecordCleanupCounts(_ context.Context, _ int64, _ CleanupCounts) error  { return nil }
func (NoOpAuditor) RecordWave(_ context.Context, _ int64, _ WaveRecord) error              { return nil }
func (NoOpAuditor) RecordUnit(_ context.Context, _ int64, _ UnitRecord) error              { return nil }
func (NoOpAuditor) RecordPhaseResult(_ context.Context, _ int64, _ PhaseResultRecord) error {
	return nil
}
func (NoOpAuditor) RecordDrift(_ context.Context, _ int64, _ DriftRecord) error { return nil }
func (NoOpAuditor) RecordEvent(_ context.Context, _ int64, _ EventRecord) error { return nil }
func (NoOpAuditor) Close() error                                                { return nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
