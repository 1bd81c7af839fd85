// Package ras balances a transactions matrix to new row and column
// totals by iterative bi-proportional scaling. Structural zeros are
// preserved; a zero row or column receives a scaling factor of zero.
package ras

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/config"
	"github.com/impactos/engine/pkg/iomodel"
)

// NonConvergenceError reports a balance that did not reach tolerance
// within the iteration limit. The caller decides whether the partial
// result is still usable; it never silently becomes a model version.
type NonConvergenceError struct {
	Iterations int
	FinalError float64
	Tolerance  float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("ras did not converge after %d iterations: error %.3g > tolerance %.3g",
		e.Iterations, e.FinalError, e.Tolerance)
}

// Result holds the balanced matrix and convergence diagnostics.
type Result struct {
	Balanced   [][]float64
	Converged  bool
	Iterations int
	FinalError float64
	// StructuralChange is sum(|Zb - Z0|) / (sum(|Z0|) + eps), a rough
	// magnitude of how far the balance moved the economy's structure.
	StructuralChange float64
}

// structuralChangeWarning is the magnitude above which a balance is
// suspicious enough to warrant steward review.
const structuralChangeWarning = 0.5

// SignificantStructuralChange reports whether the balance moved the
// matrix far enough that review is warranted before publishing.
func (r Result) SignificantStructuralChange() bool {
	return r.StructuralChange > structuralChangeWarning
}

// Balancer runs the RAS iteration with configured tolerances.
type Balancer struct {
	Tolerance     float64
	MaxIterations int
}

// NewBalancer builds a balancer from engine tolerances.
func NewBalancer(tol config.Tolerances) Balancer {
	return Balancer{Tolerance: tol.RAS, MaxIterations: tol.RASMaxIterations}
}

// Balance alternates row and column scaling of z0 until both row sums
// match targetRows and column sums match targetCols within tolerance.
// On non-convergence it returns the partial result together with a
// NonConvergenceError.
func (b Balancer) Balance(z0 [][]float64, targetRows, targetCols []float64) (Result, error) {
	n := len(z0)
	if n == 0 {
		return Result{}, &iomodel.ValidationError{Field: "z0", Msg: "empty matrix"}
	}
	for i, row := range z0 {
		if len(row) != n {
			return Result{}, &iomodel.ValidationError{Field: "z0", Msg: fmt.Sprintf("row %d has %d columns, want %d", i, len(row), n)}
		}
	}
	if len(targetRows) != n || len(targetCols) != n {
		return Result{}, &iomodel.ValidationError{Field: "targets", Msg: fmt.Sprintf("target lengths %d/%d do not match %d sectors", len(targetRows), len(targetCols), n)}
	}
	for i := 0; i < n; i++ {
		if targetRows[i] < 0 || targetCols[i] < 0 {
			return Result{}, &iomodel.ValidationError{Field: "targets", Msg: "target totals must be non-negative"}
		}
	}

	z := make([][]float64, n)
	baseAbs := 0.0
	for i := range z0 {
		z[i] = append([]float64(nil), z0[i]...)
		for _, v := range z0[i] {
			baseAbs += math.Abs(v)
		}
	}

	tol := b.Tolerance
	if tol <= 0 {
		tol = config.DefaultTolerances().RAS
	}
	maxIter := b.MaxIterations
	if maxIter <= 0 {
		maxIter = config.DefaultTolerances().RASMaxIterations
	}

	res := Result{FinalError: math.Inf(1)}
	for iter := 1; iter <= maxIter; iter++ {
		// Row scaling; zero-sum rows keep their structural zeros.
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += z[i][j]
			}
			factor := 0.0
			if sum > 0 {
				factor = targetRows[i] / sum
			}
			for j := 0; j < n; j++ {
				z[i][j] *= factor
			}
		}
		// Column scaling.
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += z[i][j]
			}
			factor := 0.0
			if sum > 0 {
				factor = targetCols[j] / sum
			}
			for i := 0; i < n; i++ {
				z[i][j] *= factor
			}
		}

		res.Iterations = iter
		res.FinalError = maxError(z, targetRows, targetCols)
		if res.FinalError <= tol {
			res.Converged = true
			break
		}
	}

	res.Balanced = z
	res.StructuralChange = structuralChange(z0, z, baseAbs)
	if !res.Converged {
		return res, &NonConvergenceError{
			Iterations: res.Iterations,
			FinalError: res.FinalError,
			Tolerance:  tol,
		}
	}
	return res, nil
}

// ToModelVersion registers a converged balance as a new model version
// labeled balanced_nowcast, carrying the parent lineage.
func (b Balancer) ToModelVersion(reg *iomodel.Registry, res Result, xNew []float64, sectorCodes []string, targetYear int, unit string, parentID uuid.UUID) (*iomodel.Model, error) {
	if !res.Converged {
		return nil, &NonConvergenceError{Iterations: res.Iterations, FinalError: res.FinalError, Tolerance: b.Tolerance}
	}
	return reg.Register(iomodel.RegisterParams{
		Z:           res.Balanced,
		X:           xNew,
		SectorCodes: sectorCodes,
		BaseYear:    targetYear,
		Unit:        unit,
		Source:      iomodel.SourceBalancedNowcast,
		ParentID:    &parentID,
	})
}

func maxError(z [][]float64, targetRows, targetCols []float64) float64 {
	n := len(z)
	worst := 0.0
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += z[i][j]
		}
		if e := math.Abs(sum - targetRows[i]); e > worst {
			worst = e
		}
	}
	for j := 0; j < n; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += z[i][j]
		}
		if e := math.Abs(sum - targetCols[j]); e > worst {
			worst = e
		}
	}
	return worst
}

func structuralChange(z0, zb [][]float64, baseAbs float64) float64 {
	diff := 0.0
	for i := range z0 {
		for j := range z0[i] {
			diff += math.Abs(zb[i][j] - z0[i][j])
		}
	}
	return diff / (baseAbs + 1e-10)
}
