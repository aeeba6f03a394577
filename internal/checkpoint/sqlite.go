// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id        TEXT    NOT NULL,
    wave_index    INTEGER NOT NULL,
    snapshot_ref  TEXT    NOT NULL,
    snapshot      BLOB,
    created_at    TEXT    NOT NULL,
    consumed_at   TEXT,
    UNIQUE (run_id, wave_index)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
`

// SQLiteStore persists checkpoints for one run in a SQLite database. It can
// share the database handle with the audit trail.
type SQLiteStore struct {
	db    *sql.DB
	runID string
	now   func() time.Time
}

// NewSQLiteStore applies the checkpoint schema to db and returns a store
// scoped to runID.
func NewSQLiteStore(ctx context.Context, db *sql.DB, runID string) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("applying checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db, runID: runID, now: time.Now}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	if cp.SnapshotRef == "" {
		cp.SnapshotRef = Ref(s.runID, cp.WaveIndex)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, wave_index, snapshot_ref, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, wave_index) DO NOTHING`,
		s.runID, cp.WaveIndex, cp.SnapshotRef, cp.Snapshot, formatTime(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting checkpoint for wave %d: %w", cp.WaveIndex, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wave %d: %w", cp.WaveIndex, ErrExists)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, waveIndex int) (Checkpoint, error) {
	var (
		cp         Checkpoint
		createdAt  string
		consumedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT wave_index, snapshot_ref, snapshot, created_at, consumed_at
		FROM checkpoints WHERE run_id = ? AND wave_index = ?`,
		s.runID, waveIndex,
	).Scan(&cp.WaveIndex, &cp.SnapshotRef, &cp.Snapshot, &createdAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("wave %d: %w", waveIndex, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("loading checkpoint for wave %d: %w", waveIndex, err)
	}
	cp.CreatedAt = parseTime(createdAt)
	if consumedAt.Valid {
		cp.ConsumedAt = parseTime(consumedAt.String)
	}
	return cp, nil
}

// Consume marks the checkpoint consumed with a conditional update, so
// concurrent callers cannot both consume it.
func (s *SQLiteStore) Consume(ctx context.Context, waveIndex int) (Checkpoint, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints SET consumed_at = ?
		WHERE run_id = ? AND wave_index = ? AND consumed_at IS NULL`,
		formatTime(s.now()), s.runID, waveIndex)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("consuming checkpoint for wave %d: %w", waveIndex, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("consuming checkpoint for wave %d: %w", waveIndex, err)
	}
	if n == 0 {
		if _, lerr := s.Load(ctx, waveIndex); lerr != nil {
			return Checkpoint{}, lerr
		}
		return Checkpoint{}, fmt.Errorf("wave %d: %w", waveIndex, ErrConsumed)
	}
	return s.Load(ctx, waveIndex)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
