// Package flywheel implements the knowledge libraries that improve
// between engagements: versioned mapping patterns, assumption defaults,
// and workforce bridge refinements, all built on a generic draft/publish
// version manager with an exactly-one-active pointer.
package flywheel

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// VersionConflictError reports a lost compare-and-swap on the active
// version pointer: another publisher moved it first.
type VersionConflictError struct {
	Expected uuid.UUID
	Actual   uuid.UUID
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("active version moved: expected %s, found %s", e.Expected, e.Actual)
}

// ErrVersionNotFound is returned for unknown version IDs.
var ErrVersionNotFound = fmt.Errorf("library version not found")

// VersionStore persists published library versions and tracks which one
// is active. Exactly one version is active at a time once anything has
// been published.
type VersionStore[V any] interface {
	SaveVersion(id uuid.UUID, v V) error
	GetVersion(id uuid.UUID) (V, error)
	// ActiveID returns the active version ID, or uuid.Nil when nothing
	// has been published.
	ActiveID() uuid.UUID
	GetActive() (V, bool)
	// CompareAndSetActive moves the active pointer only if it still
	// points at expected; otherwise it returns VersionConflictError.
	CompareAndSetActive(expected, next uuid.UUID) error
	ListVersions() []V
}

// MemoryStore is the in-process VersionStore used by tests and
// single-node deployments. SQLite-backed persistence wraps the same
// interface.
type MemoryStore[V any] struct {
	mu       sync.RWMutex
	versions map[uuid.UUID]V
	order    []uuid.UUID
	active   uuid.UUID
}

// NewMemoryStore builds an empty store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{versions: make(map[uuid.UUID]V)}
}

func (s *MemoryStore[V]) SaveVersion(id uuid.UUID, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[id]; exists {
		return fmt.Errorf("version %s already saved", id)
	}
	s.versions[id] = v
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore[V]) GetVersion(id uuid.UUID) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		var zero V
		return zero, fmt.Errorf("version %s: %w", id, ErrVersionNotFound)
	}
	return v, nil
}

func (s *MemoryStore[V]) ActiveID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *MemoryStore[V]) GetActive() (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == uuid.Nil {
		var zero V
		return zero, false
	}
	v, ok := s.versions[s.active]
	return v, ok
}

func (s *MemoryStore[V]) CompareAndSetActive(expected, next uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != expected {
		return &VersionConflictError{Expected: expected, Actual: s.active}
	}
	if _, ok := s.versions[next]; !ok {
		return fmt.Errorf("version %s: %w", next, ErrVersionNotFound)
	}
	s.active = next
	return nil
}

func (s *MemoryStore[V]) ListVersions() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.versions[id])
	}
	return out
}
