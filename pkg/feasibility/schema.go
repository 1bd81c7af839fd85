// Package feasibility clips unconstrained output changes against a
// versioned constraint set and quantifies the deliverability gap. The
// v1 solver applies each constraint independently (iterative clipping);
// it does not re-balance the input-output identities after clipping.
package feasibility

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/confidence"
)

// Type categorizes a constraint.
type Type string

const (
	CapacityCap Type = "CAPACITY_CAP" // max absolute output per sector
	Ramp        Type = "RAMP"         // max base-to-target growth
	Labor       Type = "LABOR"        // max jobs by sector
	Import      Type = "IMPORT"       // max imported inputs
	Budget      Type = "BUDGET"       // spending ceiling, pre-solve only
	Saudization Type = "SAUDIZATION"  // min Saudi share, diagnostic only
	Other       Type = "OTHER"
)

// BoundScope states whether a bound caps total output (base + delta)
// or the delta alone.
type BoundScope string

const (
	AbsoluteTotal BoundScope = "ABSOLUTE_TOTAL"
	DeltaOnly     BoundScope = "DELTA_ONLY"
)

// Unit is the typed unit of a constraint's bounds.
type Unit string

const (
	UnitSAR         Unit = "SAR"
	UnitSARMillions Unit = "SAR_MILLIONS"
	UnitJobs        Unit = "JOBS"
	UnitFraction    Unit = "FRACTION"
	UnitGrowthRate  Unit = "GROWTH_RATE"
)

// ScopeKind says what a constraint applies to.
type ScopeKind string

const (
	ScopeSector ScopeKind = "sector"
	ScopeGroup  ScopeKind = "group"
	ScopeAll    ScopeKind = "all"
)

// Scope binds a constraint to one sector, a sector group, or the whole
// economy. Economy-wide clipping constraints need an allocation rule.
type Scope struct {
	Kind           ScopeKind `json:"kind"`
	Values         []string  `json:"values,omitempty"`
	AllocationRule string    `json:"allocation_rule,omitempty"`
}

func (s Scope) validate() error {
	switch s.Kind {
	case ScopeSector:
		if len(s.Values) != 1 {
			return fmt.Errorf("sector scope requires exactly one value, got %d", len(s.Values))
		}
	case ScopeGroup:
		if len(s.Values) < 2 {
			return fmt.Errorf("group scope requires at least two values, got %d", len(s.Values))
		}
	case ScopeAll:
		if len(s.Values) != 0 {
			return fmt.Errorf("economy-wide scope must not list values")
		}
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	return nil
}

// Constraint is a single feasibility constraint with governance
// metadata. At least one of UpperBound, LowerBound, or MaxGrowthRate
// must be set.
type Constraint struct {
	ID            uuid.UUID  `json:"id"`
	Type          Type       `json:"type"`
	Scope         Scope      `json:"scope"`
	Description   string     `json:"description"`
	UpperBound    *float64   `json:"upper_bound,omitempty"`
	LowerBound    *float64   `json:"lower_bound,omitempty"`
	MaxGrowthRate *float64   `json:"max_growth_rate,omitempty"`
	BoundScope    BoundScope `json:"bound_scope,omitempty"`
	Unit          Unit       `json:"unit"`
	TimeWindow    *[2]int    `json:"time_window,omitempty"`
	Confidence    string     `json:"confidence"`
	Owner         string     `json:"owner,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

var defaultBoundScope = map[Type]BoundScope{
	CapacityCap: AbsoluteTotal,
	Ramp:        AbsoluteTotal,
	Labor:       AbsoluteTotal,
	Import:      AbsoluteTotal,
	Budget:      DeltaOnly,
	Saudization: AbsoluteTotal,
	Other:       DeltaOnly,
}

// EffectiveBoundScope falls back to the type default when the
// constraint does not set one explicitly.
func (c Constraint) EffectiveBoundScope() BoundScope {
	if c.BoundScope != "" {
		return c.BoundScope
	}
	if bs, ok := defaultBoundScope[c.Type]; ok {
		return bs
	}
	return DeltaOnly
}

// IsPreSolve reports whether the constraint modifies the demand shock
// before the Leontief solve instead of clipping output after it.
func (c Constraint) IsPreSolve() bool { return c.Type == Budget }

// IsDiagnosticOnly reports whether the constraint never clips output.
func (c Constraint) IsDiagnosticOnly() bool { return c.Type == Saudization }

// IsPostSolveClipping reports whether the constraint clips output.
func (c Constraint) IsPostSolveClipping() bool {
	switch c.Type {
	case CapacityCap, Ramp, Labor, Import:
		return true
	}
	return false
}

// AppliesToSector reports whether the constraint covers a sector code.
func (c Constraint) AppliesToSector(code string) bool {
	if c.Scope.Kind == ScopeAll {
		return true
	}
	for _, v := range c.Scope.Values {
		if v == code {
			return true
		}
	}
	return false
}

// AppliesInYear reports whether the constraint is active in a year. A
// nil year or missing time window matches everything.
func (c Constraint) AppliesInYear(year *int) bool {
	if year == nil || c.TimeWindow == nil {
		return true
	}
	return c.TimeWindow[0] <= *year && *year <= c.TimeWindow[1]
}

func (c Constraint) hasBound() bool {
	return c.UpperBound != nil || c.LowerBound != nil || c.MaxGrowthRate != nil
}

// Set is a versioned collection of constraints for one scenario run.
type Set struct {
	ID             uuid.UUID    `json:"id"`
	ModelVersionID uuid.UUID    `json:"model_version_id"`
	Name           string       `json:"name"`
	Constraints    []Constraint `json:"constraints"`
	CreatedAt      time.Time    `json:"created_at"`
}

// NewSet builds a constraint set with a fresh identity.
func NewSet(modelVersionID uuid.UUID, name string, constraints []Constraint) *Set {
	return &Set{
		ID:             uuid.New(),
		ModelVersionID: modelVersionID,
		Name:           name,
		Constraints:    constraints,
		CreatedAt:      time.Now().UTC(),
	}
}

// PostSolve returns the clipping constraints active in a year.
func (s *Set) PostSolve(year *int) []Constraint {
	var out []Constraint
	for _, c := range s.Constraints {
		if c.IsPostSolveClipping() && c.AppliesInYear(year) {
			out = append(out, c)
		}
	}
	return out
}

// Diagnostics returns the diagnostic-only constraints active in a year.
func (s *Set) Diagnostics(year *int) []Constraint {
	var out []Constraint
	for _, c := range s.Constraints {
		if c.IsDiagnosticOnly() && c.AppliesInYear(year) {
			out = append(out, c)
		}
	}
	return out
}

// PreSolve returns the budget constraints applied to the demand shock.
func (s *Set) PreSolve() []Constraint {
	var out []Constraint
	for _, c := range s.Constraints {
		if c.IsPreSolve() {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the set for structural problems: malformed scopes,
// missing bounds, inverted bounds, silent duplicates on the same
// type+scope+window, economy-wide clipping constraints with no
// allocation rule, and allocation rules the v1 solver cannot honor.
// An empty return means the set is usable.
func (s *Set) Validate() []string {
	var issues []string

	type dupKey struct {
		t      Type
		kind   ScopeKind
		values string
		window string
	}
	seen := make(map[dupKey][]uuid.UUID)

	for _, c := range s.Constraints {
		if err := c.Scope.validate(); err != nil {
			issues = append(issues, fmt.Sprintf("constraint %s: %v", c.ID, err))
		}
		if !c.hasBound() {
			issues = append(issues, fmt.Sprintf("constraint %s: no bound set", c.ID))
		}
		if c.UpperBound != nil && c.LowerBound != nil && *c.LowerBound > *c.UpperBound {
			issues = append(issues, fmt.Sprintf(
				"constraint %s: lower_bound %g > upper_bound %g", c.ID, *c.LowerBound, *c.UpperBound))
		}
		if c.Scope.Kind == ScopeAll && c.IsPostSolveClipping() && c.Scope.AllocationRule == "" {
			issues = append(issues, fmt.Sprintf(
				"constraint %s: economy-wide %s missing allocation_rule", c.ID, c.Type))
		}
		if c.Scope.AllocationRule != "" && c.Scope.AllocationRule != "proportional" {
			issues = append(issues, fmt.Sprintf(
				"constraint %s: allocation_rule %q not supported, only proportional", c.ID, c.Scope.AllocationRule))
		}
		if confidence.Normalize(c.Confidence) != c.Confidence && c.Confidence != "" {
			issues = append(issues, fmt.Sprintf(
				"constraint %s: confidence %q is not canonical", c.ID, c.Confidence))
		}

		vals := append([]string(nil), c.Scope.Values...)
		sort.Strings(vals)
		window := ""
		if c.TimeWindow != nil {
			window = fmt.Sprintf("%d-%d", c.TimeWindow[0], c.TimeWindow[1])
		}
		k := dupKey{t: c.Type, kind: c.Scope.Kind, values: strings.Join(vals, ","), window: window}
		seen[k] = append(seen[k], c.ID)
	}

	for k, ids := range seen {
		if len(ids) > 1 {
			issues = append(issues, fmt.Sprintf(
				"duplicate constraints on %s/%s(%s) window %q: %d entries", k.t, k.kind, k.values, k.window, len(ids)))
		}
	}
	return issues
}
