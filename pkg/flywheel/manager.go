package flywheel

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
)

// DraftStatus tracks a draft through review before publication.
type DraftStatus string

const (
	StatusDraft    DraftStatus = "DRAFT"
	StatusReview   DraftStatus = "REVIEW"
	StatusApproved DraftStatus = "APPROVED"
	StatusRejected DraftStatus = "REJECTED"
)

// InvalidDraftStateError reports an attempt to publish a draft whose
// lifecycle state forbids it.
type InvalidDraftStateError struct {
	DraftID uuid.UUID
	Status  DraftStatus
}

func (e *InvalidDraftStateError) Error() string {
	return fmt.Sprintf("draft %s cannot be published from status %s", e.DraftID, e.Status)
}

// Hooks adapt the generic manager to one library type. Content returns
// the canonical payload used to detect content-identical publishes.
type Hooks[D, V any] struct {
	DraftID     func(D) uuid.UUID
	DraftStatus func(D) DraftStatus
	// MakeVersion builds the immutable version from an approved draft.
	MakeVersion func(draft D, versionID uuid.UUID, versionNumber int, publishedBy uuid.UUID) V
	VersionID   func(V) uuid.UUID
	Content     func(D) any
	// VersionContent mirrors Content for a published version.
	VersionContent func(V) any
}

// Manager is the generic draft/publish workflow shared by every
// knowledge library. It owns the monotonic version counter and the
// exactly-one-active invariant; publishing is serialized.
type Manager[D, V any] struct {
	mu    sync.Mutex
	store VersionStore[V]
	hooks Hooks[D, V]
	next  int
}

// NewManager wraps a store with the library's hooks.
func NewManager[D, V any](store VersionStore[V], hooks Hooks[D, V]) *Manager[D, V] {
	return &Manager[D, V]{store: store, hooks: hooks, next: 1}
}

// Active returns the active version, if any.
func (m *Manager[D, V]) Active() (V, bool) { return m.store.GetActive() }

// Get returns a historical version by ID.
func (m *Manager[D, V]) Get(id uuid.UUID) (V, error) { return m.store.GetVersion(id) }

// List returns all published versions in publication order.
func (m *Manager[D, V]) List() []V { return m.store.ListVersions() }

// Publish validates the draft state, creates an immutable version with
// the next monotonic version number, and atomically moves the active
// pointer to it. Publishing a draft whose content canonically equals
// the active version is a no-op returning the active version: no new
// version number is consumed.
func (m *Manager[D, V]) Publish(draft D, publishedBy uuid.UUID) (V, error) {
	var zero V
	if status := m.hooks.DraftStatus(draft); status == StatusRejected {
		return zero, &InvalidDraftStateError{DraftID: m.hooks.DraftID(draft), Status: status}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if active, ok := m.store.GetActive(); ok {
		same, err := canonicalize.Equal(m.hooks.Content(draft), m.hooks.VersionContent(active))
		if err != nil {
			return zero, fmt.Errorf("comparing draft to active version: %w", err)
		}
		if same {
			return active, nil
		}
	}

	prev := m.store.ActiveID()
	version := m.hooks.MakeVersion(draft, uuid.New(), m.next, publishedBy)
	id := m.hooks.VersionID(version)
	if err := m.store.SaveVersion(id, version); err != nil {
		return zero, err
	}
	if err := m.store.CompareAndSetActive(prev, id); err != nil {
		return zero, err
	}
	m.next++
	return version, nil
}
