// Package registry manages versioned satellite-coefficient packs. The
// engine never estimates coefficients; it consumes packs published
// here, each checksummed and provenance-tagged, with a staged
// draft -> verified -> active lifecycle so an unreviewed pack cannot
// feed a run.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
	"github.com/impactos/engine/pkg/provenance"
	"github.com/impactos/engine/pkg/satellites"
)

// PackState is the lifecycle state of a coefficient pack.
type PackState string

const (
	PackStateDraft      PackState = "draft"
	PackStateVerified   PackState = "verified"
	PackStateActive     PackState = "active"
	PackStateDeprecated PackState = "deprecated"
)

// ErrPackNotFound is returned for unknown pack IDs.
var ErrPackNotFound = errors.New("coefficient pack not found")

// InvalidTransitionError reports a lifecycle move the state machine
// forbids.
type InvalidTransitionError struct {
	PackID uuid.UUID
	From   PackState
	To     PackState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("pack %s: cannot move from %s to %s", e.PackID, e.From, e.To)
}

// Pack is one published coefficient set for a name (e.g. "gastat-sut")
// and reference year.
type Pack struct {
	ID              uuid.UUID               `json:"id"`
	Name            string                  `json:"name"`
	Year            int                     `json:"year"`
	State           PackState               `json:"state"`
	Coefficients    satellites.Coefficients `json:"coefficients"`
	Provenance      provenance.Record       `json:"provenance"`
	ContentChecksum string                  `json:"content_checksum"`
	PublishedBy     uuid.UUID               `json:"published_by"`
	PublishedAt     time.Time               `json:"published_at"`
}

// PackRegistry holds packs keyed by ID, at most one active per name.
type PackRegistry struct {
	mu     sync.RWMutex
	packs  map[uuid.UUID]*Pack
	byName map[string][]uuid.UUID
	active map[string]uuid.UUID
}

// NewPackRegistry creates an empty registry.
func NewPackRegistry() *PackRegistry {
	return &PackRegistry{
		packs:  make(map[uuid.UUID]*Pack),
		byName: make(map[string][]uuid.UUID),
		active: make(map[string]uuid.UUID),
	}
}

// Publish registers a draft pack. The coefficient payload is sealed
// into both the pack checksum and its provenance record.
func (r *PackRegistry) Publish(name string, year int, coeffs satellites.Coefficients, prov provenance.Record, publishedBy uuid.UUID) (*Pack, error) {
	if name == "" {
		return nil, fmt.Errorf("pack name is required")
	}
	if len(coeffs.Jobs) == 0 && len(coeffs.ImportRatio) == 0 && len(coeffs.VARatio) == 0 {
		return nil, fmt.Errorf("pack %q: no coefficients supplied", name)
	}
	if prov.Source == "" {
		return nil, fmt.Errorf("pack %q: coefficient provenance is required", name)
	}
	if coeffs.VersionID == uuid.Nil {
		coeffs.VersionID = uuid.New()
	}

	checksum, err := canonicalize.Checksum(coeffs)
	if err != nil {
		return nil, fmt.Errorf("checksumming pack %q: %w", name, err)
	}
	sealed, err := prov.Seal(coeffs)
	if err != nil {
		return nil, err
	}

	pack := &Pack{
		ID:              coeffs.VersionID,
		Name:            name,
		Year:            year,
		State:           PackStateDraft,
		Coefficients:    coeffs,
		Provenance:      sealed,
		ContentChecksum: checksum,
		PublishedBy:     publishedBy,
		PublishedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.packs[pack.ID]; exists {
		return nil, fmt.Errorf("pack %s already published", pack.ID)
	}
	r.packs[pack.ID] = pack
	r.byName[name] = append(r.byName[name], pack.ID)
	out := *pack
	return &out, nil
}

// Verify moves a draft pack to verified after steward review.
func (r *PackRegistry) Verify(packID uuid.UUID) error {
	return r.transition(packID, PackStateDraft, PackStateVerified)
}

// Activate makes a verified pack the active one for its name,
// deprecating the previously active pack.
func (r *PackRegistry) Activate(packID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pack, ok := r.packs[packID]
	if !ok {
		return fmt.Errorf("pack %s: %w", packID, ErrPackNotFound)
	}
	if pack.State != PackStateVerified {
		return &InvalidTransitionError{PackID: packID, From: pack.State, To: PackStateActive}
	}
	if prevID, ok := r.active[pack.Name]; ok {
		r.packs[prevID].State = PackStateDeprecated
	}
	pack.State = PackStateActive
	r.active[pack.Name] = packID
	return nil
}

// Deprecate retires a pack without replacing it.
func (r *PackRegistry) Deprecate(packID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pack, ok := r.packs[packID]
	if !ok {
		return fmt.Errorf("pack %s: %w", packID, ErrPackNotFound)
	}
	if pack.State == PackStateDeprecated {
		return &InvalidTransitionError{PackID: packID, From: pack.State, To: PackStateDeprecated}
	}
	if r.active[pack.Name] == packID {
		delete(r.active, pack.Name)
	}
	pack.State = PackStateDeprecated
	return nil
}

func (r *PackRegistry) transition(packID uuid.UUID, from, to PackState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pack, ok := r.packs[packID]
	if !ok {
		return fmt.Errorf("pack %s: %w", packID, ErrPackNotFound)
	}
	if pack.State != from {
		return &InvalidTransitionError{PackID: packID, From: pack.State, To: to}
	}
	pack.State = to
	return nil
}

// Get returns a pack by ID in any state. Historical packs remain
// retrievable so old run snapshots stay resolvable.
func (r *PackRegistry) Get(packID uuid.UUID) (*Pack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pack, ok := r.packs[packID]
	if !ok {
		return nil, fmt.Errorf("pack %s: %w", packID, ErrPackNotFound)
	}
	out := *pack
	return &out, nil
}

// ActiveFor returns the active pack for a name, if any.
func (r *PackRegistry) ActiveFor(name string) (*Pack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[name]
	if !ok {
		return nil, false
	}
	out := *r.packs[id]
	return &out, true
}

// List returns all packs for a name in publication order, or every
// pack when name is empty.
func (r *PackRegistry) List(name string) []Pack {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	if name != "" {
		ids = r.byName[name]
	} else {
		for id := range r.packs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return r.packs[ids[i]].PublishedAt.Before(r.packs[ids[j]].PublishedAt)
		})
	}
	out := make([]Pack, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.packs[id])
	}
	return out
}
