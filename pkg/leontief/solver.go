// Package leontief computes demand-shock propagation through a
// registered input-output model. All functions are pure: the same model
// version and shock always produce the same result.
package leontief

import (
	"fmt"
	"math"
	"sort"

	"github.com/impactos/engine/pkg/confidence"
	"github.com/impactos/engine/pkg/iomodel"
)

// SolveResult decomposes a single shock into total, direct, and indirect
// output effects. All vectors are in sector order.
type SolveResult struct {
	Total    []float64
	Direct   []float64
	Indirect []float64
}

// ClosedResult augments an open (Type I) solve with the household-closed
// (Type II) effects. Induced effects are always reported alongside the
// open-model results, never instead of them, and carry ESTIMATED
// confidence because household closure is a strong behavioral assumption.
type ClosedResult struct {
	Open       SolveResult
	TypeII     []float64
	Induced    []float64
	Confidence confidence.Label
}

// PhasedResult holds a multi-year solve with per-year decomposition plus
// cumulative and peak-year aggregates.
type PhasedResult struct {
	Annual     map[int]SolveResult
	Cumulative []float64
	PeakYear   int
	PeakTotal  []float64
}

// Solver propagates final-demand shocks through cached model matrices.
type Solver struct{}

// Solve computes dx_total = B * dd with direct = dd and
// indirect = total - direct.
func (Solver) Solve(m *iomodel.Model, deltaD []float64) (SolveResult, error) {
	total, err := m.SolveDemand(deltaD)
	if err != nil {
		return SolveResult{}, err
	}
	n := len(total)
	direct := make([]float64, n)
	copy(direct, deltaD)
	indirect := make([]float64, n)
	for i := range indirect {
		indirect[i] = total[i] - direct[i]
	}
	return SolveResult{Total: total, Direct: direct, Indirect: indirect}, nil
}

// SolveClosed runs both the open and household-closed systems. The
// induced effect is the Type II total minus the Type I total, sector by
// sector, with the household row dropped.
func (s Solver) SolveClosed(m *iomodel.Model, deltaD []float64) (ClosedResult, error) {
	open, err := s.Solve(m, deltaD)
	if err != nil {
		return ClosedResult{}, err
	}
	augmented := make([]float64, len(deltaD)+1)
	copy(augmented, deltaD)
	closed, err := m.SolveDemandClosed(augmented)
	if err != nil {
		return ClosedResult{}, err
	}
	n := m.N()
	typeII := make([]float64, n)
	induced := make([]float64, n)
	for i := 0; i < n; i++ {
		typeII[i] = closed[i]
		induced[i] = closed[i] - open.Total[i]
	}
	return ClosedResult{
		Open:       open,
		TypeII:     typeII,
		Induced:    induced,
		Confidence: confidence.Estimated,
	}, nil
}

// SolvePhased runs one solve per year in ascending year order. Nominal
// shocks are deflated to base-year terms by the model's deflator for
// that year before solving. The peak year is the year with the largest
// economy-wide total effect.
func (s Solver) SolvePhased(m *iomodel.Model, annualShocks map[int][]float64) (PhasedResult, error) {
	if len(annualShocks) == 0 {
		return PhasedResult{}, &iomodel.ValidationError{Field: "annual_shocks", Msg: "no shock years supplied"}
	}
	years := make([]int, 0, len(annualShocks))
	for y := range annualShocks {
		years = append(years, y)
	}
	sort.Ints(years)

	n := m.N()
	out := PhasedResult{
		Annual:     make(map[int]SolveResult, len(years)),
		Cumulative: make([]float64, n),
		PeakYear:   -1,
	}
	peakSum := math.Inf(-1)
	for _, year := range years {
		nominal := annualShocks[year]
		deflator := m.Deflator(year)
		real := make([]float64, len(nominal))
		for i, v := range nominal {
			real[i] = v / deflator
		}
		res, err := s.Solve(m, real)
		if err != nil {
			return PhasedResult{}, fmt.Errorf("year %d: %w", year, err)
		}
		out.Annual[year] = res

		sum := 0.0
		for i, v := range res.Total {
			out.Cumulative[i] += v
			sum += v
		}
		if sum > peakSum {
			peakSum = sum
			out.PeakYear = year
			out.PeakTotal = res.Total
		}
	}
	return out, nil
}

// ValidateNonNegative reports sectors whose total output effect is
// negative beyond tolerance. Callers that require non-negative outputs
// surface the violation instead of clipping it.
func ValidateNonNegative(res SolveResult, sectorCodes []string, tol float64) error {
	var bad []string
	for i, v := range res.Total {
		if v < -tol {
			bad = append(bad, sectorCodes[i])
		}
	}
	if len(bad) > 0 {
		return &iomodel.ValidationError{
			Field: "delta_x_total",
			Msg:   fmt.Sprintf("negative output in sectors %v", bad),
		}
	}
	return nil
}
