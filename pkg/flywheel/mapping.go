package flywheel

import (
	"time"

	"github.com/google/uuid"
)

// MappingEntry maps a line-item text pattern to a sector code.
type MappingEntry struct {
	ID         uuid.UUID `json:"id"`
	Pattern    string    `json:"pattern"`
	SectorCode string    `json:"sector_code"`
	Confidence float64   `json:"confidence"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// MappingLibrary is the versioned pattern-to-sector mapping library.
type MappingLibrary struct {
	*Library[MappingEntry]
}

// NewMappingLibrary builds a mapping library over the given store.
func NewMappingLibrary(store VersionStore[Version[MappingEntry]]) *MappingLibrary {
	return &MappingLibrary{Library: NewLibrary(store, func(e MappingEntry) uuid.UUID { return e.ID })}
}

// BuildDraft folds a window of analyst overrides into a new draft:
// confidence scores on existing entries are blended with observed
// suggestion accuracy, and repeated corrections become candidate new
// entries. The draft starts from the active version when one exists.
func (l *MappingLibrary) BuildDraft(loop *LearningLoop, since time.Time, minFrequency int) (Draft[MappingEntry], error) {
	var baseID *uuid.UUID
	if active, ok := l.Active(); ok {
		id := active.ID
		baseID = &id
	}
	draft, err := l.CreateDraft(baseID)
	if err != nil {
		return Draft[MappingEntry]{}, err
	}

	overrides := loop.Overrides(since)
	draft.Entries = loop.UpdateConfidenceScores(overrides, draft.Entries)
	draft.Entries = append(draft.Entries, loop.ExtractNewPatterns(overrides, draft.Entries, minFrequency)...)
	draft.UpdatedAt = time.Now().UTC()
	return draft, nil
}
