package flywheel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssumptionKind distinguishes numeric defaults from categorical ones.
type AssumptionKind string

const (
	AssumptionNumeric     AssumptionKind = "NUMERIC"
	AssumptionCategorical AssumptionKind = "CATEGORICAL"
)

// AssumptionEntry is one default value in the assumption library,
// keyed by a stable assumption name.
type AssumptionEntry struct {
	ID          uuid.UUID      `json:"id"`
	Key         string         `json:"key"`
	Kind        AssumptionKind `json:"kind"`
	Numeric     *float64       `json:"numeric,omitempty"`
	Categorical string         `json:"categorical,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Confidence  string         `json:"confidence"`
	Rationale   string         `json:"rationale,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Validate checks the entry carries a value matching its kind.
func (e AssumptionEntry) Validate() error {
	switch e.Kind {
	case AssumptionNumeric:
		if e.Numeric == nil {
			return fmt.Errorf("assumption %q: numeric kind without a numeric value", e.Key)
		}
	case AssumptionCategorical:
		if e.Categorical == "" {
			return fmt.Errorf("assumption %q: categorical kind without a value", e.Key)
		}
	default:
		return fmt.Errorf("assumption %q: unknown kind %q", e.Key, e.Kind)
	}
	return nil
}

// AssumptionLibrary is the versioned default-assumption library.
type AssumptionLibrary struct {
	*Library[AssumptionEntry]
}

// NewAssumptionLibrary builds an assumption library over the store.
func NewAssumptionLibrary(store VersionStore[Version[AssumptionEntry]]) *AssumptionLibrary {
	return &AssumptionLibrary{Library: NewLibrary(store, func(e AssumptionEntry) uuid.UUID { return e.ID })}
}

// Lookup returns the active entry for a key, if present.
func (l *AssumptionLibrary) Lookup(key string) (AssumptionEntry, bool) {
	for _, e := range l.ActiveEntries() {
		if e.Key == key {
			return e, true
		}
	}
	return AssumptionEntry{}, false
}
