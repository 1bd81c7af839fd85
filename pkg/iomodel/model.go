// Package iomodel holds immutable input-output model versions and the
// in-process registry that serves them. A model is registered once,
// validated, factorized, and never mutated afterwards; solver packages
// read cached matrices instead of recomputing them per run.
package iomodel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/impactos/engine/pkg/canonicalize"
)

// Source records where a model version came from.
type Source string

const (
	SourceOfficial        Source = "official"
	SourceBalancedNowcast Source = "balanced_nowcast"
	SourceClientAugmented Source = "client_augmented"
)

// ValidationError reports a structural problem with model inputs.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
}

// ErrModelNotFound is returned by Registry.Get for an unknown version ID.
var ErrModelNotFound = fmt.Errorf("model version not found")

// ExtendedBlocks carries the optional satellite-adjacent rows of a
// supply-use table. All slices are indexed by sector and may be nil when
// the source table does not provide them.
type ExtendedBlocks struct {
	FinalDemand              []float64
	Imports                  []float64
	CompensationOfEmployees  []float64
	GrossOperatingSurplus    []float64
	TaxesLessSubsidies       []float64
	HouseholdConsumptionSums []float64
	Deflators                map[int]float64
}

// Version is the immutable identity of a registered model.
type Version struct {
	ID          uuid.UUID  `json:"id"`
	BaseYear    int        `json:"base_year"`
	Unit        string     `json:"unit"`
	Source      Source     `json:"source"`
	SectorCount int        `json:"sector_count"`
	Checksum    string     `json:"checksum"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Model is a registered, validated model version together with its
// cached derived matrices. All accessors return copies or read-only
// views; the underlying data never changes after Register.
type Model struct {
	version     Version
	sectorCodes []string
	sectorIndex map[string]int

	z *mat.Dense
	x []float64

	a  *mat.Dense
	b  *mat.Dense
	lu *mat.LU

	// Household-closed (Type II) variants, present only when the source
	// table carries compensation and household consumption blocks.
	aClosed  *mat.Dense
	bClosed  *mat.Dense
	luClosed *mat.LU

	extended *ExtendedBlocks
}

// Version returns the immutable identity of the model.
func (m *Model) Version() Version { return m.version }

// N returns the sector count.
func (m *Model) N() int { return len(m.sectorCodes) }

// SectorCodes returns a copy of the sector code list in matrix order.
func (m *Model) SectorCodes() []string {
	out := make([]string, len(m.sectorCodes))
	copy(out, m.sectorCodes)
	return out
}

// SectorIndex returns the matrix position of a sector code.
func (m *Model) SectorIndex(code string) (int, bool) {
	i, ok := m.sectorIndex[code]
	return i, ok
}

// Output returns a copy of the gross output vector x.
func (m *Model) Output() []float64 {
	out := make([]float64, len(m.x))
	copy(out, m.x)
	return out
}

// OutputAt returns the gross output of sector i.
func (m *Model) OutputAt(i int) float64 { return m.x[i] }

// Transactions returns the intermediate flow Z[i][j].
func (m *Model) Transactions(i, j int) float64 { return m.z.At(i, j) }

// TechnicalCoefficient returns A[i][j].
func (m *Model) TechnicalCoefficient(i, j int) float64 { return m.a.At(i, j) }

// LeontiefInverse returns a read-only view of B = (I-A)^-1.
func (m *Model) LeontiefInverse() mat.Matrix { return m.b }

// SolveDemand solves (I-A) dx = dd using the cached LU factorization and
// returns dx. The input is not modified.
func (m *Model) SolveDemand(dd []float64) ([]float64, error) {
	if len(dd) != m.N() {
		return nil, &ValidationError{Field: "delta_demand", Msg: fmt.Sprintf("length %d does not match %d sectors", len(dd), m.N())}
	}
	var out mat.VecDense
	if err := m.lu.SolveVecTo(&out, false, mat.NewVecDense(len(dd), dd)); err != nil {
		return nil, fmt.Errorf("leontief solve: %w", err)
	}
	res := make([]float64, m.N())
	copy(res, out.RawVector().Data)
	return res, nil
}

// HasHouseholdBlock reports whether the Type II closed model is available.
func (m *Model) HasHouseholdBlock() bool { return m.luClosed != nil }

// SolveDemandClosed solves the household-closed system for the augmented
// demand vector (length n+1, household row last).
func (m *Model) SolveDemandClosed(dd []float64) ([]float64, error) {
	if m.luClosed == nil {
		return nil, &ValidationError{Field: "household_block", Msg: "model has no compensation or household consumption data"}
	}
	if len(dd) != m.N()+1 {
		return nil, &ValidationError{Field: "delta_demand", Msg: fmt.Sprintf("closed solve needs length %d, got %d", m.N()+1, len(dd))}
	}
	var out mat.VecDense
	if err := m.luClosed.SolveVecTo(&out, false, mat.NewVecDense(len(dd), dd)); err != nil {
		return nil, fmt.Errorf("closed leontief solve: %w", err)
	}
	res := make([]float64, len(dd))
	copy(res, out.RawVector().Data)
	return res, nil
}

// Extended returns the optional extended blocks, or nil.
func (m *Model) Extended() *ExtendedBlocks { return m.extended }

// Deflator returns the price deflator for a year, defaulting to 1.0.
func (m *Model) Deflator(year int) float64 {
	if m.extended == nil || m.extended.Deflators == nil {
		return 1.0
	}
	if d, ok := m.extended.Deflators[year]; ok && d > 0 {
		return d
	}
	return 1.0
}

// checksumPayload is the canonical content identity of a model: the same
// table registered twice yields the same checksum regardless of map or
// field ordering in the caller.
type checksumPayload struct {
	SectorCodes []string    `json:"sector_codes"`
	Z           [][]float64 `json:"z"`
	X           []float64   `json:"x"`
	BaseYear    int         `json:"base_year"`
	Unit        string      `json:"unit"`
}

func computeChecksum(codes []string, z [][]float64, x []float64, baseYear int, unit string) (string, error) {
	return canonicalize.Checksum(checksumPayload{
		SectorCodes: codes,
		Z:           z,
		X:           x,
		BaseYear:    baseYear,
		Unit:        unit,
	})
}
