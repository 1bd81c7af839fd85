package feasibility

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/satellites"
)

// bindingTolerance decides whether an implied cap ties with the applied
// minimum and is therefore reported as binding.
const bindingTolerance = 1e-9

// ConstraintInfeasibilityError reports a sector whose constraints admit
// no feasible value: the tightest upper cap falls below a required
// lower bound.
type ConstraintInfeasibilityError struct {
	Sector     string
	UpperCap   float64
	LowerBound float64
}

func (e *ConstraintInfeasibilityError) Error() string {
	return fmt.Sprintf("sector %s is infeasible: tightest cap %g is below required lower bound %g",
		e.Sector, e.UpperCap, e.LowerBound)
}

// BindingConstraint records a constraint whose implied cap equals the
// applied minimum for a sector. Ties produce one record per constraint.
type BindingConstraint struct {
	ConstraintID       uuid.UUID
	Type               Type
	SectorCode         string
	UnconstrainedValue float64
	ConstrainedValue   float64
	Gap                float64
	GapPct             float64
	Unit               Unit
	Description        string
}

// ComplianceDiagnostic reports a diagnostic-only check. A positive gap
// means the projection falls short of the target.
type ComplianceDiagnostic struct {
	ConstraintID   uuid.UUID
	Type           Type
	SectorCode     string
	TargetValue    float64
	ProjectedValue float64
	Gap            float64
	Description    string
}

// Enabler is a policy action that would relax a binding constraint or
// close a compliance gap, ranked by the gap it unlocks.
type Enabler struct {
	ID           uuid.UUID
	ConstraintID uuid.UUID
	Description  string
	SectorCode   string
	GapUnlocked  float64
	PriorityRank int
}

// ConfidenceSummary counts constraints by confidence, overall and among
// those that bound.
type ConfidenceSummary struct {
	Total            int
	HardCount        int
	EstimatedCount   int
	AssumedCount     int
	BindingBreakdown map[string]int
}

// Result is the complete feasibility analysis for one run. Immutable
// after construction; owned by the run that produced it.
type Result struct {
	UnconstrainedDeltaX []float64
	FeasibleDeltaX      []float64

	UnconstrainedSatellite satellites.Result
	FeasibleSatellite      satellites.Result

	BindingConstraints    []BindingConstraint
	NonBindingConstraints []uuid.UUID
	ComplianceDiagnostics []ComplianceDiagnostic

	OutputEnablers     []Enabler
	ComplianceEnablers []Enabler

	TotalOutputGap    float64
	TotalOutputGapPct float64
	TotalJobsGap      float64

	ConfidenceSummary ConfidenceSummary

	ConstraintSetID  uuid.UUID
	SolverMethod     string
	KnownLimitations []string
}

// Input carries everything one solve needs. ProjectedSaudiShare is
// optional enrichment for saudization diagnostics; absent sectors
// project to zero.
type Input struct {
	Unconstrained       []float64
	BaseX               []float64
	SectorCodes         []string
	Coefficients        satellites.Coefficients
	Set                 *Set
	Year                *int
	ProjectedSaudiShare map[string]float64
}

// Solver applies a constraint set to an unconstrained solve. The
// embedded accounts supply coefficient lookups for labor and import
// inversion and the satellite recompute on the feasible vector.
type Solver struct {
	Accounts satellites.Accounts
}

// capCandidate is one constraint's implied delta cap for a sector.
type capCandidate struct {
	constraint Constraint
	impliedCap float64
}

// Solve clips the unconstrained vector against every applicable
// post-solve constraint, evaluates diagnostics, and derives enablers.
// The feasible value per sector is the minimum over all implied caps,
// so constraint evaluation order cannot affect the outcome.
func (s Solver) Solve(in Input) (*Result, error) {
	if in.Set == nil {
		return nil, &iomodel.ValidationError{
			Field: "constraint_set",
			Msg:   "constraint set is required",
		}
	}
	n := len(in.SectorCodes)
	if len(in.Unconstrained) != n || len(in.BaseX) != n {
		return nil, &iomodel.ValidationError{
			Field: "unconstrained_delta_x",
			Msg:   fmt.Sprintf("vector lengths %d/%d do not match %d sectors", len(in.Unconstrained), len(in.BaseX), n),
		}
	}

	unconstrained := append([]float64(nil), in.Unconstrained...)
	feasible := append([]float64(nil), in.Unconstrained...)

	candidates := make(map[int][]capCandidate)
	var nonBinding []uuid.UUID

	for _, c := range in.Set.PostSolve(in.Year) {
		applied, err := s.collectCandidates(c, in, candidates)
		if err != nil {
			return nil, err
		}
		if !applied {
			nonBinding = append(nonBinding, c.ID)
		}
	}

	var binding []BindingConstraint
	boundIDs := make(map[uuid.UUID]bool)
	for idx, caps := range candidates {
		if unconstrained[idx] <= 0 {
			// Contractions pass through unclipped.
			continue
		}
		minCap := math.Inf(1)
		for _, cc := range caps {
			if cc.impliedCap < minCap {
				minCap = cc.impliedCap
			}
		}
		if minCap >= unconstrained[idx] {
			continue
		}
		if err := checkLowerBounds(caps, in.SectorCodes[idx], minCap); err != nil {
			return nil, err
		}
		feasible[idx] = minCap
		for _, cc := range caps {
			if math.Abs(cc.impliedCap-minCap) <= bindingTolerance {
				boundIDs[cc.constraint.ID] = true
				gap := unconstrained[idx] - minCap
				binding = append(binding, BindingConstraint{
					ConstraintID:       cc.constraint.ID,
					Type:               cc.constraint.Type,
					SectorCode:         in.SectorCodes[idx],
					UnconstrainedValue: unconstrained[idx],
					ConstrainedValue:   minCap,
					Gap:                gap,
					GapPct:             gap / unconstrained[idx],
					Unit:               cc.constraint.Unit,
					Description:        cc.constraint.Description,
				})
			}
		}
	}
	for _, c := range in.Set.PostSolve(in.Year) {
		if !boundIDs[c.ID] && !containsID(nonBinding, c.ID) {
			nonBinding = append(nonBinding, c.ID)
		}
	}

	var diags []ComplianceDiagnostic
	for _, c := range in.Set.Diagnostics(in.Year) {
		diags = append(diags, s.diagnose(c, in)...)
	}

	unconSat, err := s.Accounts.Compute(in.SectorCodes, unconstrained, in.Coefficients)
	if err != nil {
		return nil, err
	}
	feasSat, err := s.Accounts.Compute(in.SectorCodes, feasible, in.Coefficients)
	if err != nil {
		return nil, err
	}

	totalGap, unconTotal := 0.0, 0.0
	for i := range unconstrained {
		if d := unconstrained[i] - feasible[i]; d > 0 {
			totalGap += d
		}
		if unconstrained[i] > 0 {
			unconTotal += unconstrained[i]
		}
	}
	gapPct := 0.0
	if unconTotal > 0 {
		gapPct = totalGap / unconTotal
	}
	jobsGap := 0.0
	for i := range unconSat.DeltaJobs {
		if d := unconSat.DeltaJobs[i] - feasSat.DeltaJobs[i]; d > 0 {
			jobsGap += d
		}
	}

	return &Result{
		UnconstrainedDeltaX:    unconstrained,
		FeasibleDeltaX:         feasible,
		UnconstrainedSatellite: unconSat,
		FeasibleSatellite:      feasSat,
		BindingConstraints:     binding,
		NonBindingConstraints:  nonBinding,
		ComplianceDiagnostics:  diags,
		OutputEnablers:         rankEnablers(outputEnablers(binding)),
		ComplianceEnablers:     rankEnablers(complianceEnablers(diags)),
		TotalOutputGap:         totalGap,
		TotalOutputGapPct:      gapPct,
		TotalJobsGap:           jobsGap,
		ConfidenceSummary:      summarizeConfidence(in.Set, boundIDs),
		ConstraintSetID:        in.Set.ID,
		SolverMethod:           "iterative_clipping_v1",
		KnownLimitations: []string{
			"input-output accounting identity violated by independent clipping",
			"ramp constraints cap base-to-target growth, not year-over-year sequential growth",
		},
	}, nil
}

// collectCandidates computes the implied delta cap of one constraint
// for every sector it covers and records the candidates. Returns false
// when the constraint produced no candidate at all.
func (s Solver) collectCandidates(c Constraint, in Input, candidates map[int][]capCandidate) (bool, error) {
	if c.Scope.Kind == ScopeAll {
		return s.collectEconomyWide(c, in, candidates)
	}
	applied := false
	for idx, code := range in.SectorCodes {
		if !c.AppliesToSector(code) {
			continue
		}
		bound, err := s.boundForSector(c, in, idx)
		if err != nil {
			return false, err
		}
		if bound == nil {
			continue
		}
		cap := *bound
		if c.EffectiveBoundScope() == AbsoluteTotal {
			cap -= in.BaseX[idx]
		}
		candidates[idx] = append(candidates[idx], capCandidate{constraint: c, impliedCap: cap})
		applied = true
	}
	return applied, nil
}

// boundForSector converts a constraint's bound into the space of the
// constraint type for one sector: RAMP caps grow from base, LABOR and
// IMPORT bounds invert through the satellite coefficients.
func (s Solver) boundForSector(c Constraint, in Input, idx int) (*float64, error) {
	switch c.Type {
	case CapacityCap:
		return c.UpperBound, nil
	case Ramp:
		if c.MaxGrowthRate != nil {
			v := in.BaseX[idx] * (1 + *c.MaxGrowthRate)
			return &v, nil
		}
		return c.UpperBound, nil
	case Labor:
		if c.UpperBound == nil {
			return nil, nil
		}
		coeff, err := s.Accounts.JobsCoefficient(in.Coefficients, in.SectorCodes[idx])
		if err != nil {
			return nil, err
		}
		if coeff <= 0 {
			return nil, nil
		}
		v := *c.UpperBound / coeff
		return &v, nil
	case Import:
		if c.UpperBound == nil {
			return nil, nil
		}
		ratio, err := s.Accounts.ImportCoefficient(in.Coefficients, in.SectorCodes[idx])
		if err != nil {
			return nil, err
		}
		if ratio <= 0 {
			return nil, nil
		}
		v := *c.UpperBound / ratio
		return &v, nil
	}
	return c.UpperBound, nil
}

// collectEconomyWide allocates an economy-wide cap proportionally to
// each sector's share of the positive unconstrained aggregate. RAMP
// applies the same growth cap to every sector instead.
func (s Solver) collectEconomyWide(c Constraint, in Input, candidates map[int][]capCandidate) (bool, error) {
	if c.Scope.AllocationRule != "" && c.Scope.AllocationRule != "proportional" {
		return false, &iomodel.ValidationError{
			Field: "allocation_rule",
			Msg:   fmt.Sprintf("constraint %s: rule %q not supported, only proportional", c.ID, c.Scope.AllocationRule),
		}
	}

	if c.Type == Ramp && c.MaxGrowthRate != nil {
		applied := false
		for idx := range in.SectorCodes {
			cap := in.BaseX[idx] * (1 + *c.MaxGrowthRate)
			if c.EffectiveBoundScope() == AbsoluteTotal {
				cap -= in.BaseX[idx]
			}
			candidates[idx] = append(candidates[idx], capCandidate{constraint: c, impliedCap: cap})
			applied = true
		}
		return applied, nil
	}

	if c.UpperBound == nil {
		return false, nil
	}

	// Value of each sector in the constraint's own space.
	values := make([]float64, len(in.SectorCodes))
	for idx, code := range in.SectorCodes {
		switch c.Type {
		case Labor:
			coeff, err := s.Accounts.JobsCoefficient(in.Coefficients, code)
			if err != nil {
				return false, err
			}
			values[idx] = coeff * in.Unconstrained[idx]
		case Import:
			ratio, err := s.Accounts.ImportCoefficient(in.Coefficients, code)
			if err != nil {
				return false, err
			}
			values[idx] = ratio * in.Unconstrained[idx]
		default:
			values[idx] = in.Unconstrained[idx]
		}
	}
	aggregate := 0.0
	for _, v := range values {
		if v > 0 {
			aggregate += v
		}
	}
	if aggregate <= *c.UpperBound {
		return false, nil
	}
	scale := *c.UpperBound / aggregate

	applied := false
	for idx, code := range in.SectorCodes {
		if values[idx] <= 0 {
			continue
		}
		scaled := values[idx] * scale
		var cap float64
		switch c.Type {
		case Labor:
			coeff, err := s.Accounts.JobsCoefficient(in.Coefficients, code)
			if err != nil {
				return false, err
			}
			if coeff <= 0 {
				continue
			}
			cap = scaled / coeff
		case Import:
			ratio, err := s.Accounts.ImportCoefficient(in.Coefficients, code)
			if err != nil {
				return false, err
			}
			if ratio <= 0 {
				continue
			}
			cap = scaled / ratio
		default:
			cap = scaled
		}
		candidates[idx] = append(candidates[idx], capCandidate{constraint: c, impliedCap: cap})
		applied = true
	}
	return applied, nil
}

// diagnose evaluates one saudization constraint against the projected
// Saudi share per covered sector without touching the output vector.
func (s Solver) diagnose(c Constraint, in Input) []ComplianceDiagnostic {
	if c.Type != Saudization || c.LowerBound == nil {
		return nil
	}
	target := *c.LowerBound
	var out []ComplianceDiagnostic
	for _, code := range in.SectorCodes {
		if !c.AppliesToSector(code) {
			continue
		}
		projected := in.ProjectedSaudiShare[code]
		out = append(out, ComplianceDiagnostic{
			ConstraintID:   c.ID,
			Type:           c.Type,
			SectorCode:     code,
			TargetValue:    target,
			ProjectedValue: projected,
			Gap:            target - projected,
			Description:    c.Description,
		})
	}
	return out
}

func checkLowerBounds(caps []capCandidate, sector string, minCap float64) error {
	for _, cc := range caps {
		c := cc.constraint
		if c.LowerBound == nil || c.EffectiveBoundScope() != DeltaOnly {
			continue
		}
		if minCap < *c.LowerBound {
			return &ConstraintInfeasibilityError{
				Sector:     sector,
				UpperCap:   minCap,
				LowerBound: *c.LowerBound,
			}
		}
	}
	return nil
}

func outputEnablers(binding []BindingConstraint) []Enabler {
	out := make([]Enabler, 0, len(binding))
	for _, bc := range binding {
		var desc string
		switch bc.Type {
		case CapacityCap:
			desc = fmt.Sprintf("Increase %s production capacity by %.1f%% (%.1f %s)",
				bc.SectorCode, bc.GapPct*100, bc.Gap, bc.Unit)
		case Ramp:
			desc = fmt.Sprintf("Accelerate %s growth beyond the current ramp to accommodate %.1f %s additional output",
				bc.SectorCode, bc.Gap, bc.Unit)
		case Labor:
			desc = fmt.Sprintf("Add workers to %s or raise productivity to unlock %.1f %s output",
				bc.SectorCode, bc.Gap, bc.Unit)
		case Import:
			desc = fmt.Sprintf("Develop domestic supply for %s to reduce import dependency by %.1f %s",
				bc.SectorCode, bc.Gap, bc.Unit)
		default:
			desc = fmt.Sprintf("Address %s constraint on %s", bc.Type, bc.SectorCode)
		}
		out = append(out, Enabler{
			ID:           uuid.New(),
			ConstraintID: bc.ConstraintID,
			Description:  desc,
			SectorCode:   bc.SectorCode,
			GapUnlocked:  bc.Gap,
		})
	}
	return out
}

func complianceEnablers(diags []ComplianceDiagnostic) []Enabler {
	var out []Enabler
	for _, d := range diags {
		if d.Gap <= 0 {
			continue
		}
		out = append(out, Enabler{
			ID:           uuid.New(),
			ConstraintID: d.ConstraintID,
			Description: fmt.Sprintf("Train or recruit Saudi workers in %s to close a %.1f point gap to the %.1f%% target",
				d.SectorCode, d.Gap*100, d.TargetValue*100),
			SectorCode:  d.SectorCode,
			GapUnlocked: d.Gap,
		})
	}
	return out
}

func rankEnablers(enablers []Enabler) []Enabler {
	sort.SliceStable(enablers, func(i, j int) bool {
		return enablers[i].GapUnlocked > enablers[j].GapUnlocked
	})
	for i := range enablers {
		enablers[i].PriorityRank = i + 1
	}
	return enablers
}

func summarizeConfidence(set *Set, boundIDs map[uuid.UUID]bool) ConfidenceSummary {
	sum := ConfidenceSummary{
		Total:            len(set.Constraints),
		BindingBreakdown: map[string]int{"HARD": 0, "ESTIMATED": 0, "ASSUMED": 0},
	}
	for _, c := range set.Constraints {
		switch c.Confidence {
		case "HARD":
			sum.HardCount++
		case "ESTIMATED":
			sum.EstimatedCount++
		case "ASSUMED":
			sum.AssumedCount++
		}
		if boundIDs[c.ID] {
			sum.BindingBreakdown[c.Confidence]++
		}
	}
	return sum
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
