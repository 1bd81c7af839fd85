package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
)

// PublicationRecord links one published library version to its content
// checksum so an auditor can reproduce the publication history from
// the records alone.
type PublicationRecord struct {
	Library         string    `json:"library"`
	VersionID       uuid.UUID `json:"version_id"`
	VersionNumber   int       `json:"version_number"`
	ContentChecksum string    `json:"content_checksum"`
	ChangeLog       string    `json:"change_log,omitempty"`
	PublishedBy     uuid.UUID `json:"published_by"`
	PublishedAt     time.Time `json:"published_at"`
	ContentHash     string    `json:"content_hash"`
	PrevHash        string    `json:"prev_hash,omitempty"`
}

// PublicationLedger is an append-only log of library publications.
type PublicationLedger struct {
	mu       sync.Mutex
	entries  []PublicationRecord
	headHash string
	clock    func() time.Time
}

// NewPublicationLedger creates an empty publication ledger.
func NewPublicationLedger() *PublicationLedger {
	return &PublicationLedger{headHash: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *PublicationLedger) WithClock(clock func() time.Time) *PublicationLedger {
	l.clock = clock
	return l
}

func publicationHash(r PublicationRecord) (string, error) {
	payload := struct {
		Library  string `json:"library"`
		Version  string `json:"version"`
		Number   int    `json:"number"`
		Checksum string `json:"checksum"`
		Prev     string `json:"prev"`
	}{r.Library, r.VersionID.String(), r.VersionNumber, r.ContentChecksum, r.PrevHash}
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(raw), nil
}

// Record appends a publication to the ledger.
func (l *PublicationLedger) Record(record PublicationRecord) (*PublicationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record.PublishedAt.IsZero() {
		record.PublishedAt = l.clock()
	}
	record.PrevHash = l.headHash
	hash, err := publicationHash(record)
	if err != nil {
		return nil, err
	}
	record.ContentHash = hash

	l.entries = append(l.entries, record)
	l.headHash = record.ContentHash
	return &record, nil
}

// Get retrieves a publication by index, oldest first.
func (l *PublicationLedger) Get(index int) (*PublicationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("publication index %d out of range", index)
	}
	entry := l.entries[index]
	return &entry, nil
}

// Length returns the number of publications.
func (l *PublicationLedger) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify checks the integrity of the publication chain.
func (l *PublicationLedger) Verify() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at publication %d", i)
		}
		computed, err := publicationHash(entry)
		if err != nil {
			return false, fmt.Sprintf("cannot rehash publication %d: %v", i, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at publication %d", i)
		}
		prevHash = entry.ContentHash
	}
	return true, "publication chain verified"
}
