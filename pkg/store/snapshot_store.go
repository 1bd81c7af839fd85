package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/run"
)

// ErrSnapshotNotFound is returned for unknown run IDs.
var ErrSnapshotNotFound = errors.New("run snapshot not found")

// SQLiteSnapshotStore persists sealed run snapshots with their result
// sets. Snapshots are immutable; there is no update path.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore migrates the schema and returns the store.
func NewSQLiteSnapshotStore(db *sql.DB) (*SQLiteSnapshotStore, error) {
	s := &SQLiteSnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSnapshotStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS run_snapshots (
		run_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		model_version_id TEXT NOT NULL,
		coefficients_version_id TEXT NOT NULL,
		constraint_set_id TEXT,
		snapshot JSON NOT NULL,
		result_points JSON NOT NULL,
		input_checksum TEXT NOT NULL,
		result_checksum TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save persists one sealed snapshot with its result set.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap run.Snapshot, results run.ResultSet) error {
	if !snap.Sealed {
		return fmt.Errorf("run %s: refusing to persist an unsealed snapshot", snap.RunID)
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	pointsJSON, err := json.Marshal(results.Points)
	if err != nil {
		return fmt.Errorf("encoding result points: %w", err)
	}

	constraintSetID := sql.NullString{}
	if snap.ConstraintSetID != nil {
		constraintSetID = sql.NullString{String: snap.ConstraintSetID.String(), Valid: true}
	}

	query := `INSERT INTO run_snapshots (
		run_id, created_at, model_version_id, coefficients_version_id,
		constraint_set_id, snapshot, result_points, input_checksum, result_checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		snap.RunID.String(),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		snap.ModelVersionID.String(),
		snap.CoefficientsVersionID.String(),
		constraintSetID,
		string(snapJSON),
		string(pointsJSON),
		snap.InputChecksum,
		snap.ResultChecksum,
	)
	if err != nil {
		return fmt.Errorf("inserting run snapshot: %w", err)
	}
	return nil
}

// Get loads a snapshot and its result set by run ID.
func (s *SQLiteSnapshotStore) Get(ctx context.Context, runID uuid.UUID) (run.Snapshot, run.ResultSet, error) {
	query := `SELECT snapshot, result_points FROM run_snapshots WHERE run_id = ?`
	row := s.db.QueryRowContext(ctx, query, runID.String())

	var snapJSON, pointsJSON string
	if err := row.Scan(&snapJSON, &pointsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run.Snapshot{}, run.ResultSet{}, fmt.Errorf("run %s: %w", runID, ErrSnapshotNotFound)
		}
		return run.Snapshot{}, run.ResultSet{}, err
	}

	var snap run.Snapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return run.Snapshot{}, run.ResultSet{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	results := run.ResultSet{RunID: snap.RunID}
	if err := json.Unmarshal([]byte(pointsJSON), &results.Points); err != nil {
		return run.Snapshot{}, run.ResultSet{}, fmt.Errorf("decoding result points: %w", err)
	}
	return snap, results, nil
}

// List returns the most recent snapshots, newest first.
func (s *SQLiteSnapshotStore) List(ctx context.Context, limit int) ([]run.Snapshot, error) {
	query := `SELECT snapshot FROM run_snapshots ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []run.Snapshot
	for rows.Next() {
		var snapJSON string
		if err := rows.Scan(&snapJSON); err != nil {
			return nil, err
		}
		var snap run.Snapshot
		if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ListByModel returns snapshot run IDs pinned to a model version. The
// retention contract says these must stay resolvable while any
// snapshot references them.
func (s *SQLiteSnapshotStore) ListByModel(ctx context.Context, modelVersionID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT run_id FROM run_snapshots WHERE model_version_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, modelVersionID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing run id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
