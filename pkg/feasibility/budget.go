package feasibility

// ApplyBudget enforces BUDGET ceilings on the demand shock before the
// Leontief solve. Each ceiling scales the positive shock entries in its
// scope proportionally so their sum fits under the bound; negative
// entries (contractions) are untouched. Returns the adjusted shock and
// whether any ceiling bound.
func ApplyBudget(deltaD []float64, sectorCodes []string, set *Set) ([]float64, bool) {
	out := append([]float64(nil), deltaD...)
	bound := false
	for _, c := range set.PreSolve() {
		if c.UpperBound == nil {
			continue
		}
		sum := 0.0
		for i, code := range sectorCodes {
			if c.AppliesToSector(code) && out[i] > 0 {
				sum += out[i]
			}
		}
		if sum <= *c.UpperBound {
			continue
		}
		scale := *c.UpperBound / sum
		for i, code := range sectorCodes {
			if c.AppliesToSector(code) && out[i] > 0 {
				out[i] *= scale
			}
		}
		bound = true
	}
	return out, bound
}
