// Package ledger provides append-only, hash-chained audit logs for the
// engine's governed actions: runs, nowcast decisions, and library
// publications. Entries are chained to their predecessor and the whole
// chain is independently verifiable from the entries alone.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/impactos/engine/pkg/canonicalize"
)

// Type categorizes a ledger.
type Type string

const (
	TypeRun         Type = "RUN"
	TypeNowcast     Type = "NOWCAST"
	TypePublication Type = "PUBLICATION"
	TypeModel       Type = "MODEL"
)

const genesisHash = "genesis"

// Entry is one immutable, hash-chained record.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	EntryType   string         `json:"entry_type"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       string         `json:"actor,omitempty"`
	Data        map[string]any `json:"data"`
}

// Ledger is an append-only, hash-chained log. Appends are serialized;
// reads are concurrent.
type Ledger struct {
	mu         sync.RWMutex
	ledgerType Type
	entries    []Entry
	headHash   string
	clock      func() time.Time
}

// New creates an empty ledger of the given type.
func New(t Type) *Ledger {
	return &Ledger{
		ledgerType: t,
		headHash:   genesisHash,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func entryHash(seq uint64, entryType string, data map[string]any, prevHash string) (string, error) {
	payload := struct {
		Seq  uint64         `json:"seq"`
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
		Prev string         `json:"prev"`
	}{seq, entryType, data, prevHash}
	raw, err := canonicalize.JCS(payload)
	if err != nil {
		return "", fmt.Errorf("hashing ledger entry: %w", err)
	}
	return canonicalize.HashBytes(raw), nil
}

// Append chains a new entry onto the ledger and returns its sequence.
func (l *Ledger) Append(entryType, actor string, data map[string]any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, entryType, data, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		EntryType:   entryType,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Actor:       actor,
		Data:        data,
	})
	l.headHash = contentHash
	return seq, nil
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("ledger entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the full chain, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Verify recomputes every hash and checks the chain links. It returns
// the failure description when the chain is broken.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.EntryType, entry.Data, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("cannot rehash entry %d: %v", i+1, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

// Type returns the ledger type.
func (l *Ledger) Type() Type { return l.ledgerType }
