// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package audit

// schemaSQL contains the DDL for the audit database.
// All timestamps are stored as ISO 8601 TEXT for SQLite compatibility
// while remaining PostgreSQL-compatible (TEXT maps to TEXT/TIMESTAMP,
// linked_run_ids and differing_keys map to JSONB).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id               TEXT    NOT NULL UNIQUE,
	linked_run_ids       TEXT,
	command              TEXT    NOT NULL,
	status               TEXT    NOT NULL DEFAULT 'in_progress',
	environment          TEXT    NOT NULL,
	location             TEXT,
	plan_path            TEXT,
	platform             TEXT,
	provisioner          TEXT,
	observer             TEXT,
	namespace            TEXT,
	wave_size            INTEGER,
	max_concurrency      INTEGER,
	max_retries          INTEGER,
	dry_run              INTEGER NOT NULL DEFAULT 0,
	unit_count           INTEGER,
	wave_count           INTEGER,
	units_completed      INTEGER,
	units_failed         INTEGER,
	units_rolled_back    INTEGER,
	units_skipped        INTEGER,
	vms_deleted          INTEGER,
	data_volumes_deleted INTEGER,
	secrets_deleted      INTEGER,
	namespace_deleted    INTEGER,
	started_at           TEXT    NOT NULL,
	completed_at         TEXT,
	error_summary        TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_log_started_at  ON audit_log(started_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_environment ON audit_log(environment);
CREATE INDEX IF NOT EXISTS idx_audit_log_status      ON audit_log(status);
CREATE INDEX IF NOT EXISTS idx_audit_log_run_id      ON audit_log(run_id);

CREATE TABLE IF NOT EXISTS wave_details (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id          INTEGER NOT NULL REFERENCES audit_log(id),
	wave_index        INTEGER NOT NULL,
	unit_count        INTEGER NOT NULL,
	max_concurrency   INTEGER NOT NULL,
	independent       INTEGER NOT NULL DEFAULT 0,
	status            TEXT    NOT NULL DEFAULT 'Pending',
	units_completed   INTEGER,
	units_rolled_back INTEGER,
	error_detail      TEXT,
	started_at        TEXT,
	completed_at      TEXT,
	UNIQUE(audit_id, wave_index)
);

CREATE INDEX IF NOT EXISTS idx_wave_details_audit_id ON wave_details(audit_id);

CREATE TABLE IF NOT EXISTS unit_details (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id      INTEGER NOT NULL REFERENCES audit_log(id),
	unit_id       TEXT    NOT NULL,
	os_family     TEXT    NOT NULL,
	size_class    TEXT,
	source_env    TEXT,
	phase         TEXT    NOT NULL,
	total_retries INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT,
	created_at    TEXT,
	updated_at    TEXT,
	UNIQUE(audit_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_unit_details_audit_id ON unit_details(audit_id);
CREATE INDEX IF NOT EXISTS idx_unit_details_phase    ON unit_details(phase);

CREATE TABLE IF NOT EXISTS phase_results (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id     INTEGER NOT NULL REFERENCES audit_log(id),
	unit_id      TEXT    NOT NULL,
	phase        TEXT    NOT NULL,
	attempt      INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	error_kind   TEXT,
	error_detail TEXT,
	retriable    INTEGER NOT NULL DEFAULT 0,
	terminal     INTEGER NOT NULL DEFAULT 0,
	finished_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_phase_results_audit_id ON phase_results(audit_id);
CREATE INDEX IF NOT EXISTS idx_phase_results_unit_id  ON phase_results(unit_id);

CREATE TABLE IF NOT EXISTS drift_reports (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id       INTEGER NOT NULL REFERENCES audit_log(id),
	resource_name  TEXT    NOT NULL,
	resource_kind  TEXT,
	has_drift      INTEGER NOT NULL,
	missing        INTEGER NOT NULL DEFAULT 0,
	differing_keys TEXT,
	checked_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drift_reports_audit_id ON drift_reports(audit_id);

CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id     INTEGER NOT NULL REFERENCES audit_log(id),
	unit_id      TEXT,
	wave_index   INTEGER,
	event_type   TEXT    NOT NULL,
	message      TEXT,
	error_detail TEXT,
	occurred_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_audit_id    ON events(audit_id);
CREATE INDEX IF NOT EXISTS idx_events_event_type  ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
`
