package feasibility

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/satellites"
)

func f(v float64) *float64 { return &v }

func testCoefficients() satellites.Coefficients {
	return satellites.Coefficients{
		VersionID: uuid.New(),
		Jobs: map[string]satellites.Coefficient{
			"F": {Value: 2.0, Confidence: "HARD"},
			"G": {Value: 1.0, Confidence: "HARD"},
		},
		ImportRatio: map[string]satellites.Coefficient{
			"F": {Value: 0.2, Confidence: "HARD"},
			"G": {Value: 0.5, Confidence: "HARD"},
		},
		VARatio: map[string]satellites.Coefficient{
			"F": {Value: 0.5, Confidence: "HARD"},
			"G": {Value: 0.5, Confidence: "HARD"},
		},
	}
}

func sectorConstraint(t Type, sector string, mutate func(*Constraint)) Constraint {
	c := Constraint{
		ID:          uuid.New(),
		Type:        t,
		Scope:       Scope{Kind: ScopeSector, Values: []string{sector}},
		Description: string(t) + " on " + sector,
		Unit:        UnitSARMillions,
		Confidence:  "HARD",
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func solveWith(t *testing.T, constraints []Constraint, unconstrained, base []float64) *Result {
	t.Helper()
	set := NewSet(uuid.New(), "test", constraints)
	require.Empty(t, set.Validate())
	res, err := Solver{}.Solve(Input{
		Unconstrained: unconstrained,
		BaseX:         base,
		SectorCodes:   []string{"F", "G"},
		Coefficients:  testCoefficients(),
		Set:           set,
	})
	require.NoError(t, err)
	return res
}

func TestSolveRequiresConstraintSet(t *testing.T) {
	_, err := Solver{}.Solve(Input{
		Unconstrained: []float64{1, 2},
		BaseX:         []float64{0, 0},
		SectorCodes:   []string{"F", "G"},
		Coefficients:  testCoefficients(),
	})
	var verr *iomodel.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "constraint_set", verr.Field)
}

func TestCapacityCapClipsAndReportsGap(t *testing.T) {
	// Absolute cap of 100 on a sector whose unconstrained delta is 150
	// (zero base): feasible 100, binding, gap 50.
	cap := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(100)
	})
	res := solveWith(t, []Constraint{cap}, []float64{150, 10}, []float64{0, 0})

	assert.InDelta(t, 100, res.FeasibleDeltaX[0], 1e-9)
	assert.InDelta(t, 10, res.FeasibleDeltaX[1], 1e-9)
	require.Len(t, res.BindingConstraints, 1)
	bc := res.BindingConstraints[0]
	assert.Equal(t, cap.ID, bc.ConstraintID)
	assert.InDelta(t, 50, bc.Gap, 1e-9)
	assert.InDelta(t, 50, res.TotalOutputGap, 1e-9)
}

func TestAbsoluteTotalSubtractsBase(t *testing.T) {
	cap := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(100)
	})
	// Base output 80: the delta cap is 100 - 80 = 20.
	res := solveWith(t, []Constraint{cap}, []float64{50, 0}, []float64{80, 0})
	assert.InDelta(t, 20, res.FeasibleDeltaX[0], 1e-9)
}

func TestDeltaOnlyScopeIgnoresBase(t *testing.T) {
	cap := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(30)
		c.BoundScope = DeltaOnly
	})
	res := solveWith(t, []Constraint{cap}, []float64{50, 0}, []float64{80, 0})
	assert.InDelta(t, 30, res.FeasibleDeltaX[0], 1e-9)
}

func TestRampCapGrowsFromBase(t *testing.T) {
	ramp := sectorConstraint(Ramp, "F", func(c *Constraint) {
		c.MaxGrowthRate = f(0.10)
		c.Unit = UnitGrowthRate
	})
	// base 100, max growth 10% => total cap 110 => delta cap 10.
	res := solveWith(t, []Constraint{ramp}, []float64{25, 0}, []float64{100, 0})
	assert.InDelta(t, 10, res.FeasibleDeltaX[0], 1e-9)
}

func TestLaborCapInvertsJobsCoefficient(t *testing.T) {
	labor := sectorConstraint(Labor, "F", func(c *Constraint) {
		c.UpperBound = f(40) // jobs
		c.BoundScope = DeltaOnly
		c.Unit = UnitJobs
	})
	// jobs coefficient 2.0: 40 jobs => delta output cap 20.
	res := solveWith(t, []Constraint{labor}, []float64{50, 0}, []float64{0, 0})
	assert.InDelta(t, 20, res.FeasibleDeltaX[0], 1e-9)
}

func TestImportCapInvertsImportRatio(t *testing.T) {
	imp := sectorConstraint(Import, "G", func(c *Constraint) {
		c.UpperBound = f(5)
		c.BoundScope = DeltaOnly
	})
	// import ratio 0.5: import cap 5 => delta output cap 10.
	res := solveWith(t, []Constraint{imp}, []float64{0, 30}, []float64{0, 0})
	assert.InDelta(t, 10, res.FeasibleDeltaX[1], 1e-9)
}

func TestUnconstrainedSectorsPassThrough(t *testing.T) {
	cap := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(100)
		c.BoundScope = DeltaOnly
	})
	res := solveWith(t, []Constraint{cap}, []float64{50, 70}, []float64{0, 0})
	assert.Equal(t, res.UnconstrainedDeltaX[1], res.FeasibleDeltaX[1])
	assert.Equal(t, res.UnconstrainedDeltaX[0], res.FeasibleDeltaX[0])
	assert.Empty(t, res.BindingConstraints)
	assert.Contains(t, res.NonBindingConstraints, cap.ID)
}

func TestContractionIsNeverClipped(t *testing.T) {
	cap := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(10)
		c.BoundScope = DeltaOnly
	})
	res := solveWith(t, []Constraint{cap}, []float64{-30, 0}, []float64{0, 0})
	assert.Equal(t, -30.0, res.FeasibleDeltaX[0])
}

func TestTiedCapsAreMultiplyBinding(t *testing.T) {
	a := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(20)
		c.BoundScope = DeltaOnly
	})
	b := sectorConstraint(Labor, "F", func(c *Constraint) {
		c.UpperBound = f(40) // / coeff 2.0 => 20
		c.BoundScope = DeltaOnly
		c.Unit = UnitJobs
	})
	res := solveWith(t, []Constraint{a, b}, []float64{50, 0}, []float64{0, 0})
	assert.InDelta(t, 20, res.FeasibleDeltaX[0], 1e-9)
	assert.Len(t, res.BindingConstraints, 2)
}

func TestLooserCapIsNotBinding(t *testing.T) {
	tight := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(20)
		c.BoundScope = DeltaOnly
	})
	loose := sectorConstraint(Labor, "F", func(c *Constraint) {
		c.UpperBound = f(80) // => cap 40, looser than 20
		c.BoundScope = DeltaOnly
		c.Unit = UnitJobs
	})
	res := solveWith(t, []Constraint{tight, loose}, []float64{50, 0}, []float64{0, 0})
	require.Len(t, res.BindingConstraints, 1)
	assert.Equal(t, tight.ID, res.BindingConstraints[0].ConstraintID)
	assert.Contains(t, res.NonBindingConstraints, loose.ID)
}

func TestClippingIsOrderIndependent(t *testing.T) {
	mk := func() []Constraint {
		return []Constraint{
			sectorConstraint(CapacityCap, "F", func(c *Constraint) { c.UpperBound = f(25); c.BoundScope = DeltaOnly }),
			sectorConstraint(Labor, "F", func(c *Constraint) { c.UpperBound = f(30); c.BoundScope = DeltaOnly; c.Unit = UnitJobs }),
			sectorConstraint(Ramp, "G", func(c *Constraint) { c.MaxGrowthRate = f(0.2); c.Unit = UnitGrowthRate }),
		}
	}
	forward := mk()
	reversed := mk()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	base := []float64{0, 50}
	uncon := []float64{60, 40}
	resA := solveWith(t, forward, uncon, base)
	resB := solveWith(t, reversed, uncon, base)
	assert.Equal(t, resA.FeasibleDeltaX, resB.FeasibleDeltaX)
}

func TestEconomyWideProportionalAllocation(t *testing.T) {
	all := Constraint{
		ID:          uuid.New(),
		Type:        CapacityCap,
		Scope:       Scope{Kind: ScopeAll, AllocationRule: "proportional"},
		Description: "economy-wide output ceiling",
		UpperBound:  f(60),
		BoundScope:  DeltaOnly,
		Unit:        UnitSARMillions,
		Confidence:  "ESTIMATED",
	}
	res := solveWith(t, []Constraint{all}, []float64{90, 30}, []float64{0, 0})

	// Aggregate 120 scaled to 60: shares 0.75/0.25 => caps 45/15.
	assert.InDelta(t, 45, res.FeasibleDeltaX[0], 1e-9)
	assert.InDelta(t, 15, res.FeasibleDeltaX[1], 1e-9)
	assert.Len(t, res.BindingConstraints, 2)
}

func TestSaudizationIsDiagnosticOnly(t *testing.T) {
	diag := Constraint{
		ID:          uuid.New(),
		Type:        Saudization,
		Scope:       Scope{Kind: ScopeSector, Values: []string{"F"}},
		Description: "nitaqat minimum",
		LowerBound:  f(0.3),
		Unit:        UnitFraction,
		Confidence:  "HARD",
	}
	set := NewSet(uuid.New(), "diag", []Constraint{diag})
	res, err := Solver{}.Solve(Input{
		Unconstrained:       []float64{100, 0},
		BaseX:               []float64{0, 0},
		SectorCodes:         []string{"F", "G"},
		Coefficients:        testCoefficients(),
		Set:                 set,
		ProjectedSaudiShare: map[string]float64{"F": 0.2},
	})
	require.NoError(t, err)

	assert.Equal(t, res.UnconstrainedDeltaX, res.FeasibleDeltaX)
	require.Len(t, res.ComplianceDiagnostics, 1)
	d := res.ComplianceDiagnostics[0]
	assert.InDelta(t, 0.1, d.Gap, 1e-9)
	require.Len(t, res.ComplianceEnablers, 1)
	assert.Empty(t, res.OutputEnablers)
}

func TestEnablersRankedByGap(t *testing.T) {
	big := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(10)
		c.BoundScope = DeltaOnly
	})
	small := sectorConstraint(CapacityCap, "G", func(c *Constraint) {
		c.UpperBound = f(35)
		c.BoundScope = DeltaOnly
	})
	res := solveWith(t, []Constraint{big, small}, []float64{100, 40}, []float64{0, 0})

	require.Len(t, res.OutputEnablers, 2)
	assert.Equal(t, 1, res.OutputEnablers[0].PriorityRank)
	assert.InDelta(t, 90, res.OutputEnablers[0].GapUnlocked, 1e-9)
	assert.InDelta(t, 5, res.OutputEnablers[1].GapUnlocked, 1e-9)
}

func TestConfidenceSummaryCountsBinding(t *testing.T) {
	hard := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(10)
		c.BoundScope = DeltaOnly
	})
	assumed := sectorConstraint(CapacityCap, "G", func(c *Constraint) {
		c.UpperBound = f(1000)
		c.BoundScope = DeltaOnly
		c.Confidence = "ASSUMED"
	})
	res := solveWith(t, []Constraint{hard, assumed}, []float64{100, 40}, []float64{0, 0})

	sum := res.ConfidenceSummary
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.HardCount)
	assert.Equal(t, 1, sum.AssumedCount)
	assert.Equal(t, 1, sum.BindingBreakdown["HARD"])
	assert.Equal(t, 0, sum.BindingBreakdown["ASSUMED"])
}

func TestInfeasibleBoundsSurfaceTypedError(t *testing.T) {
	c := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(10)
		c.LowerBound = f(5)
		c.BoundScope = DeltaOnly
	})
	tighter := sectorConstraint(Labor, "F", func(c *Constraint) {
		c.UpperBound = f(4) // / 2.0 => cap 2 < lower bound 5
		c.BoundScope = DeltaOnly
		c.Unit = UnitJobs
	})
	set := NewSet(uuid.New(), "conflict", []Constraint{c, tighter})
	_, err := Solver{}.Solve(Input{
		Unconstrained: []float64{100, 0},
		BaseX:         []float64{0, 0},
		SectorCodes:   []string{"F", "G"},
		Coefficients:  testCoefficients(),
		Set:           set,
	})
	var ierr *ConstraintInfeasibilityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "F", ierr.Sector)
}

func TestTimeWindowFiltersConstraints(t *testing.T) {
	windowed := sectorConstraint(CapacityCap, "F", func(c *Constraint) {
		c.UpperBound = f(10)
		c.BoundScope = DeltaOnly
		c.TimeWindow = &[2]int{2026, 2028}
	})
	set := NewSet(uuid.New(), "windowed", []Constraint{windowed})

	in := Input{
		Unconstrained: []float64{50, 0},
		BaseX:         []float64{0, 0},
		SectorCodes:   []string{"F", "G"},
		Coefficients:  testCoefficients(),
		Set:           set,
	}
	year := 2025
	in.Year = &year
	res, err := Solver{}.Solve(in)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.FeasibleDeltaX[0])

	year = 2027
	res, err = Solver{}.Solve(in)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.FeasibleDeltaX[0])
}

func TestApplyBudgetScalesPositiveShock(t *testing.T) {
	budget := Constraint{
		ID:          uuid.New(),
		Type:        Budget,
		Scope:       Scope{Kind: ScopeAll},
		Description: "program ceiling",
		UpperBound:  f(30),
		Unit:        UnitSARMillions,
		Confidence:  "HARD",
	}
	set := NewSet(uuid.New(), "budget", []Constraint{budget})

	adjusted, bound := ApplyBudget([]float64{40, 20, -5}, []string{"F", "G", "H"}, set)
	assert.True(t, bound)
	assert.InDelta(t, 20, adjusted[0], 1e-9)
	assert.InDelta(t, 10, adjusted[1], 1e-9)
	assert.Equal(t, -5.0, adjusted[2])

	within, bound := ApplyBudget([]float64{10, 10, 0}, []string{"F", "G", "H"}, set)
	assert.False(t, bound)
	assert.Equal(t, []float64{10, 10, 0}, within)
}
