package flywheel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
)

// Draft is the mutable working copy of a knowledge library.
type Draft[E any] struct {
	ID            uuid.UUID   `json:"id"`
	Status        DraftStatus `json:"status"`
	BaseVersionID *uuid.UUID  `json:"base_version_id,omitempty"`
	Entries       []E         `json:"entries"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Diff is the machine-readable entry-ID delta between a version and
// its parent.
type Diff struct {
	Added   []uuid.UUID `json:"added"`
	Removed []uuid.UUID `json:"removed"`
	Changed []uuid.UUID `json:"changed"`
}

// Version is a frozen, monotonically numbered library snapshot.
type Version[E any] struct {
	ID            uuid.UUID  `json:"id"`
	VersionNumber int        `json:"version_number"`
	ParentID      *uuid.UUID `json:"parent_version_id,omitempty"`
	Entries       []E        `json:"entries"`
	Diff          Diff       `json:"diff"`
	ChangeLog     string     `json:"change_log"`
	PublishedBy   uuid.UUID  `json:"published_by"`
	PublishedAt   time.Time  `json:"published_at"`
}

// Library binds the generic draft/publish manager to one entry type.
// The entry-ID accessor drives diff computation; entry content is
// compared canonically so reordered but identical entries do not
// produce a new version.
type Library[E any] struct {
	store   VersionStore[Version[E]]
	manager *Manager[Draft[E], Version[E]]
	entryID func(E) uuid.UUID
}

// NewLibrary builds a library over the given store.
func NewLibrary[E any](store VersionStore[Version[E]], entryID func(E) uuid.UUID) *Library[E] {
	lib := &Library[E]{store: store, entryID: entryID}
	lib.manager = NewManager(store, Hooks[Draft[E], Version[E]]{
		DraftID:     func(d Draft[E]) uuid.UUID { return d.ID },
		DraftStatus: func(d Draft[E]) DraftStatus { return d.Status },
		MakeVersion: lib.makeVersion,
		VersionID:   func(v Version[E]) uuid.UUID { return v.ID },
		Content:     func(d Draft[E]) any { return contentKeys(d.Entries, entryID) },
		VersionContent: func(v Version[E]) any {
			return contentKeys(v.Entries, entryID)
		},
	})
	return lib
}

// CreateDraft starts a new draft, copying entries from the named base
// version or starting empty when baseVersionID is nil.
func (l *Library[E]) CreateDraft(baseVersionID *uuid.UUID) (Draft[E], error) {
	now := time.Now().UTC()
	draft := Draft[E]{ID: uuid.New(), Status: StatusDraft, CreatedAt: now, UpdatedAt: now}
	if baseVersionID != nil {
		base, err := l.store.GetVersion(*baseVersionID)
		if err != nil {
			return Draft[E]{}, fmt.Errorf("base version %s: %w", baseVersionID, err)
		}
		draft.BaseVersionID = baseVersionID
		draft.Entries = append([]E(nil), base.Entries...)
	}
	return draft, nil
}

// Publish freezes the draft into the next version and activates it.
func (l *Library[E]) Publish(draft Draft[E], publishedBy uuid.UUID) (Version[E], error) {
	return l.manager.Publish(draft, publishedBy)
}

// Active returns the currently active version, if any.
func (l *Library[E]) Active() (Version[E], bool) { return l.manager.Active() }

// Get returns a historical version by ID.
func (l *Library[E]) Get(id uuid.UUID) (Version[E], error) { return l.manager.Get(id) }

// List returns every published version in order.
func (l *Library[E]) List() []Version[E] { return l.manager.List() }

// ActiveEntries returns a copy of the active version's entries, or nil
// when nothing has been published yet.
func (l *Library[E]) ActiveEntries() []E {
	active, ok := l.manager.Active()
	if !ok {
		return nil
	}
	return append([]E(nil), active.Entries...)
}

func (l *Library[E]) makeVersion(draft Draft[E], versionID uuid.UUID, number int, publishedBy uuid.UUID) Version[E] {
	var parentID *uuid.UUID
	var parentEntries []E
	if active, ok := l.store.GetActive(); ok {
		pid := active.ID
		parentID = &pid
		parentEntries = active.Entries
	}
	diff := computeDiff(parentEntries, draft.Entries, l.entryID)
	log := fmt.Sprintf("%d added, %d removed, %d changed", len(diff.Added), len(diff.Removed), len(diff.Changed))
	if draft.Notes != "" {
		log = draft.Notes + " (" + log + ")"
	}
	return Version[E]{
		ID:            versionID,
		VersionNumber: number,
		ParentID:      parentID,
		Entries:       append([]E(nil), draft.Entries...),
		Diff:          diff,
		ChangeLog:     log,
		PublishedBy:   publishedBy,
		PublishedAt:   time.Now().UTC(),
	}
}

// contentKeys maps entries by ID so content comparison ignores order.
func contentKeys[E any](entries []E, entryID func(E) uuid.UUID) map[string]E {
	out := make(map[string]E, len(entries))
	for _, e := range entries {
		out[entryID(e).String()] = e
	}
	return out
}

func computeDiff[E any](parent, current []E, entryID func(E) uuid.UUID) Diff {
	parentByID := make(map[uuid.UUID]E, len(parent))
	for _, e := range parent {
		parentByID[entryID(e)] = e
	}
	var diff Diff
	seen := make(map[uuid.UUID]struct{}, len(current))
	for _, e := range current {
		id := entryID(e)
		seen[id] = struct{}{}
		old, ok := parentByID[id]
		if !ok {
			diff.Added = append(diff.Added, id)
			continue
		}
		if same, err := canonicalize.Equal(old, e); err != nil || !same {
			diff.Changed = append(diff.Changed, id)
		}
	}
	for _, e := range parent {
		if _, ok := seen[entryID(e)]; !ok {
			diff.Removed = append(diff.Removed, entryID(e))
		}
	}
	return diff
}
