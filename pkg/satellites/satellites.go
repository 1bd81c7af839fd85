// Package satellites converts output changes into employment, import,
// and value-added impacts through versioned per-sector coefficients.
// The package never estimates coefficients; they arrive externally and
// are referenced by version for traceability.
package satellites

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/confidence"
	"github.com/impactos/engine/pkg/iomodel"
)

// MissingCoefficientError reports a sector with no coefficient of the
// named kind and no configured fallback.
type MissingCoefficientError struct {
	Sector string
	Kind   string
}

func (e *MissingCoefficientError) Error() string {
	return fmt.Sprintf("sector %s has no %s coefficient and no fallback policy is configured", e.Sector, e.Kind)
}

// Coefficient is one versioned per-sector ratio with its confidence.
type Coefficient struct {
	Value      float64
	Confidence string
}

// Coefficients is a versioned set of satellite ratios keyed by sector
// code. Jobs is jobs per unit output; ImportRatio and VARatio are
// shares of output.
type Coefficients struct {
	VersionID   uuid.UUID
	Jobs        map[string]Coefficient
	ImportRatio map[string]Coefficient
	VARatio     map[string]Coefficient
}

// Fallback supplies a default coefficient, labeled ASSUMED, for sectors
// the coefficient set does not cover. A nil fallback means missing
// coefficients are an error.
type Fallback struct {
	Jobs        *float64
	ImportRatio *float64
	VARatio     *float64
}

// Result holds the linear-transform impacts in sector order, plus the
// worst confidence among the coefficients that produced each sector's
// numbers.
type Result struct {
	SectorCodes           []string
	DeltaJobs             []float64
	DeltaImports          []float64
	DeltaDomesticOutput   []float64
	DeltaVA               []float64
	SectorConfidence      []string
	CoefficientsVersionID uuid.UUID
}

// Accounts computes satellite impacts. A zero value errors on any
// missing coefficient; configure a Fallback to default instead.
type Accounts struct {
	Fallback *Fallback
}

func (a Accounts) lookup(m map[string]Coefficient, sector, kind string, fb *float64) (Coefficient, error) {
	if c, ok := m[sector]; ok {
		return c, nil
	}
	if a.Fallback != nil && fb != nil {
		return Coefficient{Value: *fb, Confidence: string(confidence.Assumed)}, nil
	}
	return Coefficient{}, &MissingCoefficientError{Sector: sector, Kind: kind}
}

// Compute applies the coefficient set to an output-change vector. The
// deltaX vector must be in the order of sectorCodes.
func (a Accounts) Compute(sectorCodes []string, deltaX []float64, coeffs Coefficients) (Result, error) {
	if len(deltaX) != len(sectorCodes) {
		return Result{}, &iomodel.ValidationError{
			Field: "delta_x",
			Msg:   fmt.Sprintf("length %d does not match %d sectors", len(deltaX), len(sectorCodes)),
		}
	}
	n := len(sectorCodes)
	res := Result{
		SectorCodes:           append([]string(nil), sectorCodes...),
		DeltaJobs:             make([]float64, n),
		DeltaImports:          make([]float64, n),
		DeltaDomesticOutput:   make([]float64, n),
		DeltaVA:               make([]float64, n),
		SectorConfidence:      make([]string, n),
		CoefficientsVersionID: coeffs.VersionID,
	}
	var fbJobs, fbImp, fbVA *float64
	if a.Fallback != nil {
		fbJobs, fbImp, fbVA = a.Fallback.Jobs, a.Fallback.ImportRatio, a.Fallback.VARatio
	}
	for i, code := range sectorCodes {
		jobs, err := a.lookup(coeffs.Jobs, code, "jobs", fbJobs)
		if err != nil {
			return Result{}, err
		}
		imp, err := a.lookup(coeffs.ImportRatio, code, "import_ratio", fbImp)
		if err != nil {
			return Result{}, err
		}
		va, err := a.lookup(coeffs.VARatio, code, "va_ratio", fbVA)
		if err != nil {
			return Result{}, err
		}
		res.DeltaJobs[i] = jobs.Value * deltaX[i]
		res.DeltaImports[i] = imp.Value * deltaX[i]
		res.DeltaDomesticOutput[i] = deltaX[i] - res.DeltaImports[i]
		res.DeltaVA[i] = va.Value * deltaX[i]
		res.SectorConfidence[i] = confidence.Worst(jobs.Confidence, imp.Confidence, va.Confidence)
	}
	return res, nil
}

// JobsCoefficient returns the jobs-per-output ratio for a sector,
// applying the fallback policy. Used to invert labor caps into
// equivalent output caps.
func (a Accounts) JobsCoefficient(coeffs Coefficients, sector string) (float64, error) {
	var fb *float64
	if a.Fallback != nil {
		fb = a.Fallback.Jobs
	}
	c, err := a.lookup(coeffs.Jobs, sector, "jobs", fb)
	if err != nil {
		return 0, err
	}
	return c.Value, nil
}

// ImportCoefficient returns the import share for a sector, applying the
// fallback policy.
func (a Accounts) ImportCoefficient(coeffs Coefficients, sector string) (float64, error) {
	var fb *float64
	if a.Fallback != nil {
		fb = a.Fallback.ImportRatio
	}
	c, err := a.lookup(coeffs.ImportRatio, sector, "import_ratio", fb)
	if err != nil {
		return 0, err
	}
	return c.Value, nil
}
