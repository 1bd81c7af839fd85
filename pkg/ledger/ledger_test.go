package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
}

func TestAppendChainsEntries(t *testing.T) {
	l := New(TypeRun).WithClock(fixedClock())

	seq1, err := l.Append("run_completed", "batch", map[string]any{"run_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	seq2, err := l.Append("run_completed", "batch", map[string]any{"run_id": "r2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)

	first, err := l.Get(1)
	require.NoError(t, err)
	second, err := l.Get(2)
	require.NoError(t, err)

	assert.Equal(t, "genesis", first.PrevHash)
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.Equal(t, second.ContentHash, l.Head())
	assert.Equal(t, 2, l.Length())
	assert.Equal(t, TypeRun, l.Type())
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := New(TypeNowcast).WithClock(fixedClock())
	_, err := l.Append("candidate_created", "steward", map[string]any{"candidate_id": "c1"})
	require.NoError(t, err)
	_, err = l.Append("candidate_approved", "steward", map[string]any{"candidate_id": "c1"})
	require.NoError(t, err)

	ok, msg := l.Verify()
	assert.True(t, ok, msg)

	// Mutating a stored entry breaks the recomputed hash.
	l.entries[0].Data["candidate_id"] = "c2"
	ok, msg = l.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch")
}

func TestGetOutOfRange(t *testing.T) {
	l := New(TypeRun)
	_, err := l.Get(0)
	assert.Error(t, err)
	_, err = l.Get(1)
	assert.Error(t, err)
}

func TestPublicationLedgerChain(t *testing.T) {
	l := NewPublicationLedger().WithClock(fixedClock())

	first, err := l.Record(PublicationRecord{
		Library:         "mapping",
		VersionID:       uuid.New(),
		VersionNumber:   1,
		ContentChecksum: "sha256:abc",
		PublishedBy:     uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PrevHash)
	assert.False(t, first.PublishedAt.IsZero())

	second, err := l.Record(PublicationRecord{
		Library:         "mapping",
		VersionID:       uuid.New(),
		VersionNumber:   2,
		ContentChecksum: "sha256:def",
		PublishedBy:     uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	ok, msg := l.Verify()
	assert.True(t, ok, msg)
	assert.Equal(t, 2, l.Length())

	got, err := l.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VersionNumber)
	_, err = l.Get(5)
	assert.Error(t, err)
}

func TestPublicationLedgerVerifyDetectsTampering(t *testing.T) {
	l := NewPublicationLedger()
	_, err := l.Record(PublicationRecord{Library: "assumption", VersionID: uuid.New(), VersionNumber: 1, ContentChecksum: "sha256:abc"})
	require.NoError(t, err)

	l.entries[0].VersionNumber = 9
	ok, _ := l.Verify()
	assert.False(t, ok)
}
