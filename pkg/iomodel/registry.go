package iomodel

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/impactos/engine/pkg/config"
)

// RegisterParams is the full input to Registry.Register. Z and X are
// copied; callers may reuse their buffers afterwards. ID pins the
// version ID when reconstituting a stored model for replay; nil mints
// a fresh one.
type RegisterParams struct {
	ID          *uuid.UUID
	Z           [][]float64
	X           []float64
	SectorCodes []string
	BaseYear    int
	Unit        string
	Source      Source
	ParentID    *uuid.UUID
	Extended    *ExtendedBlocks
}

// Registry holds registered model versions keyed by ID. It is safe for
// concurrent use; Get never blocks on Register of other models.
type Registry struct {
	mu     sync.RWMutex
	models map[uuid.UUID]*Model
	tol    config.Tolerances
	log    *slog.Logger
}

// NewRegistry builds an empty registry with the given tolerances.
func NewRegistry(tol config.Tolerances, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		models: make(map[uuid.UUID]*Model),
		tol:    tol,
		log:    log,
	}
}

// Register validates the table, computes and caches A, the LU
// factorization of (I-A), and B, plus the household-closed variants when
// the extended blocks allow it, then stores the model immutably.
func (r *Registry) Register(p RegisterParams) (*Model, error) {
	n := len(p.SectorCodes)
	if n == 0 {
		return nil, &ValidationError{Field: "sector_codes", Msg: "empty sector list"}
	}
	if len(p.X) != n {
		return nil, &ValidationError{Field: "x", Msg: fmt.Sprintf("output vector length %d does not match %d sectors", len(p.X), n)}
	}
	if len(p.Z) != n {
		return nil, &ValidationError{Field: "z", Msg: fmt.Sprintf("transactions matrix has %d rows, want %d", len(p.Z), n)}
	}
	seen := make(map[string]struct{}, n)
	for _, c := range p.SectorCodes {
		if c == "" {
			return nil, &ValidationError{Field: "sector_codes", Msg: "empty sector code"}
		}
		if _, dup := seen[c]; dup {
			return nil, &ValidationError{Field: "sector_codes", Msg: fmt.Sprintf("duplicate sector code %q", c)}
		}
		seen[c] = struct{}{}
	}
	for i, row := range p.Z {
		if len(row) != n {
			return nil, &ValidationError{Field: "z", Msg: fmt.Sprintf("row %d has %d columns, want %d", i, len(row), n)}
		}
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ValidationError{Field: "z", Msg: fmt.Sprintf("Z[%d][%d]=%v is not a non-negative finite value", i, j, v)}
			}
		}
	}
	for i, v := range p.X {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{Field: "x", Msg: fmt.Sprintf("x[%d]=%v must be strictly positive and finite", i, v)}
		}
	}
	if err := validateExtended(p.Extended, n); err != nil {
		return nil, err
	}

	z := mat.NewDense(n, n, nil)
	for i, row := range p.Z {
		z.SetRow(i, row)
	}
	x := make([]float64, n)
	copy(x, p.X)

	// A = Z * diag(1/x), column j scaled by output of sector j.
	a := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a.Set(i, j, z.At(i, j)/x[j])
		}
	}
	if rho := spectralRadius(a); rho >= 1 {
		return nil, &ValidationError{Field: "a", Msg: fmt.Sprintf("spectral radius %.6f >= 1, economy is not productive", rho)}
	}

	iMinusA := identityMinus(a)
	lu := &mat.LU{}
	lu.Factorize(iMinusA)
	b := mat.NewDense(n, n, nil)
	if err := lu.SolveTo(b, false, identity(n)); err != nil {
		return nil, fmt.Errorf("factorizing I-A: %w", err)
	}

	checksum, err := computeChecksum(p.SectorCodes, p.Z, p.X, p.BaseYear, p.Unit)
	if err != nil {
		return nil, fmt.Errorf("model checksum: %w", err)
	}

	codes := make([]string, n)
	copy(codes, p.SectorCodes)
	index := make(map[string]int, n)
	for i, c := range codes {
		index[c] = i
	}

	id := uuid.New()
	if p.ID != nil {
		if *p.ID == uuid.Nil {
			return nil, &ValidationError{Field: "id", Msg: "pinned version ID must not be nil"}
		}
		id = *p.ID
	}

	m := &Model{
		version: Version{
			ID:          id,
			BaseYear:    p.BaseYear,
			Unit:        p.Unit,
			Source:      p.Source,
			SectorCount: n,
			Checksum:    checksum,
			ParentID:    p.ParentID,
			CreatedAt:   time.Now().UTC(),
		},
		sectorCodes: codes,
		sectorIndex: index,
		z:           z,
		x:           x,
		a:           a,
		b:           b,
		lu:          lu,
		extended:    cloneExtended(p.Extended),
	}

	if err := r.closeHouseholds(m); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, dup := r.models[m.version.ID]; dup {
		r.mu.Unlock()
		return nil, &ValidationError{Field: "id", Msg: fmt.Sprintf("model version %s already registered", m.version.ID)}
	}
	r.models[m.version.ID] = m
	r.mu.Unlock()

	r.log.Info("model version registered",
		"model_version_id", m.version.ID,
		"base_year", p.BaseYear,
		"sectors", n,
		"source", string(p.Source),
		"closed", m.HasHouseholdBlock(),
	)
	return m, nil
}

// Get returns the immutable model for an ID.
func (r *Registry) Get(id uuid.UUID) (*Model, error) {
	r.mu.RLock()
	m, ok := r.models[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, ErrModelNotFound)
	}
	return m, nil
}

// List returns the versions of all registered models.
func (r *Registry) List() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.version)
	}
	return out
}

// closeHouseholds builds the Type II augmented matrices when the table
// carries both a compensation row and household consumption column.
func (r *Registry) closeHouseholds(m *Model) error {
	ext := m.extended
	if ext == nil || ext.CompensationOfEmployees == nil || ext.HouseholdConsumptionSums == nil {
		return nil
	}
	n := m.N()
	totalComp := 0.0
	for _, v := range ext.CompensationOfEmployees {
		totalComp += v
	}
	if totalComp <= 0 {
		return &ValidationError{Field: "compensation_of_employees", Msg: "total compensation must be positive for a closed model"}
	}

	ac := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ac.Set(i, j, m.a.At(i, j))
		}
	}
	for j := 0; j < n; j++ {
		// Household income coefficient: wages per unit of output.
		ac.Set(n, j, ext.CompensationOfEmployees[j]/m.x[j])
		// Household spending coefficient: consumption per unit of income.
		ac.Set(j, n, ext.HouseholdConsumptionSums[j]/totalComp)
	}
	ac.Set(n, n, 0)

	if rho := spectralRadius(ac); rho >= 1 {
		return &ValidationError{Field: "a_closed", Msg: fmt.Sprintf("closed spectral radius %.6f >= 1", rho)}
	}
	lu := &mat.LU{}
	lu.Factorize(identityMinus(ac))
	bc := mat.NewDense(n+1, n+1, nil)
	if err := lu.SolveTo(bc, false, identity(n+1)); err != nil {
		return fmt.Errorf("factorizing closed I-A: %w", err)
	}
	m.aClosed, m.bClosed, m.luClosed = ac, bc, lu
	return nil
}

func validateExtended(ext *ExtendedBlocks, n int) error {
	if ext == nil {
		return nil
	}
	check := func(field string, v []float64) error {
		if v != nil && len(v) != n {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("length %d does not match %d sectors", len(v), n)}
		}
		return nil
	}
	if err := check("final_demand", ext.FinalDemand); err != nil {
		return err
	}
	if err := check("imports", ext.Imports); err != nil {
		return err
	}
	if err := check("compensation_of_employees", ext.CompensationOfEmployees); err != nil {
		return err
	}
	if err := check("gross_operating_surplus", ext.GrossOperatingSurplus); err != nil {
		return err
	}
	if err := check("taxes_less_subsidies", ext.TaxesLessSubsidies); err != nil {
		return err
	}
	if err := check("household_consumption", ext.HouseholdConsumptionSums); err != nil {
		return err
	}
	for y, d := range ext.Deflators {
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return &ValidationError{Field: "deflators", Msg: fmt.Sprintf("deflator for year %d is %v, must be positive", y, d)}
		}
	}
	return nil
}

func cloneExtended(ext *ExtendedBlocks) *ExtendedBlocks {
	if ext == nil {
		return nil
	}
	cp := func(v []float64) []float64 {
		if v == nil {
			return nil
		}
		out := make([]float64, len(v))
		copy(out, v)
		return out
	}
	out := &ExtendedBlocks{
		FinalDemand:              cp(ext.FinalDemand),
		Imports:                  cp(ext.Imports),
		CompensationOfEmployees:  cp(ext.CompensationOfEmployees),
		GrossOperatingSurplus:    cp(ext.GrossOperatingSurplus),
		TaxesLessSubsidies:       cp(ext.TaxesLessSubsidies),
		HouseholdConsumptionSums: cp(ext.HouseholdConsumptionSums),
	}
	if ext.Deflators != nil {
		out.Deflators = make(map[int]float64, len(ext.Deflators))
		for k, v := range ext.Deflators {
			out.Deflators[k] = v
		}
	}
	return out
}

func spectralRadius(a *mat.Dense) float64 {
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		// Eigen decomposition failing on a finite matrix is effectively
		// unreachable; treat as non-productive so registration fails loudly.
		return math.Inf(1)
	}
	rho := 0.0
	for _, v := range eig.Values(nil) {
		if m := cmplx.Abs(v); m > rho {
			rho = m
		}
	}
	return rho
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

func identityMinus(a *mat.Dense) *mat.Dense {
	n, _ := a.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -a.At(i, j)
			if i == j {
				v = 1 - a.At(i, j)
			}
			out.Set(i, j, v)
		}
	}
	return out
}
