package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactos/engine/pkg/flywheel"
	"github.com/impactos/engine/pkg/run"
)

func sealedSnapshot() (run.Snapshot, run.ResultSet) {
	runID := uuid.New()
	setID := uuid.New()
	snap := run.Snapshot{
		RunID:                 runID,
		CreatedAt:             time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		ModelVersionID:        uuid.New(),
		CoefficientsVersionID: uuid.New(),
		ConstraintSetID:       &setID,
		InputChecksum:         "sha256:input",
		ResultChecksum:        "sha256:result",
		Sealed:                true,
	}
	results := run.ResultSet{RunID: runID, Points: []run.Point{
		{Metric: run.MetricDeltaOutput, Sector: "AGR", Value: 8.0},
		{Metric: run.MetricDeltaOutput, Sector: "MFG", Value: 4.0 / 3.0},
	}}
	return snap, results
}

func testDB(t *testing.T) *SQLiteSnapshotStore {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteSnapshotStore(db)
	require.NoError(t, err)
	return s
}

func TestSaveAndGetSnapshot(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	snap, results := sealedSnapshot()

	require.NoError(t, s.Save(ctx, snap, results))

	gotSnap, gotResults, err := s.Get(ctx, snap.RunID)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, gotSnap.RunID)
	assert.Equal(t, snap.ResultChecksum, gotSnap.ResultChecksum)
	require.NotNil(t, gotSnap.ConstraintSetID)
	assert.Equal(t, *snap.ConstraintSetID, *gotSnap.ConstraintSetID)
	require.Len(t, gotResults.Points, 2)
	assert.InDelta(t, 8.0, gotResults.Points[0].Value, 1e-12)
}

func TestSaveRejectsUnsealedSnapshot(t *testing.T) {
	s := testDB(t)
	snap, results := sealedSnapshot()
	snap.Sealed = false
	assert.Error(t, s.Save(context.Background(), snap, results))
}

func TestSaveRejectsDuplicateRunID(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	snap, results := sealedSnapshot()
	require.NoError(t, s.Save(ctx, snap, results))
	assert.Error(t, s.Save(ctx, snap, results))
}

func TestGetUnknownSnapshot(t *testing.T) {
	s := testDB(t)
	_, _, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestListByModel(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	first, firstResults := sealedSnapshot()
	second, secondResults := sealedSnapshot()
	second.ModelVersionID = first.ModelVersionID
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	other, otherResults := sealedSnapshot()

	require.NoError(t, s.Save(ctx, first, firstResults))
	require.NoError(t, s.Save(ctx, second, secondResults))
	require.NoError(t, s.Save(ctx, other, otherResults))

	ids, err := s.ListByModel(ctx, first.ModelVersionID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.RunID, second.RunID}, ids)

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVersionArchiveRoundTrip(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	archive, err := NewSQLiteVersionArchive(db)
	require.NoError(t, err)
	ctx := context.Background()

	version := flywheel.Version[flywheel.MappingEntry]{
		ID:            uuid.New(),
		VersionNumber: 1,
		Entries: []flywheel.MappingEntry{{
			ID:         uuid.New(),
			Pattern:    "steel rebar",
			SectorCode: "F",
			Confidence: 0.9,
		}},
		ChangeLog: "1 added, 0 removed, 0 changed",
	}

	require.NoError(t, archive.Archive(ctx, "mapping", version.ID, version.VersionNumber, version))

	var loaded flywheel.Version[flywheel.MappingEntry]
	require.NoError(t, archive.Load(ctx, version.ID, &loaded))
	assert.Equal(t, version.ID, loaded.ID)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "steel rebar", loaded.Entries[0].Pattern)

	// Same version twice fails on the primary key.
	assert.Error(t, archive.Archive(ctx, "mapping", version.ID, version.VersionNumber, version))

	history, err := archive.History(ctx, "mapping")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].VersionNumber)

	var missing flywheel.Version[flywheel.MappingEntry]
	assert.ErrorIs(t, archive.Load(ctx, uuid.New(), &missing), ErrVersionNotArchived)
}
