package flywheel

import (
	"fmt"
	"sort"
)

// GateViolation is one quality-gate finding on a mapping draft.
type GateViolation struct {
	Gate    string `json:"gate"`
	Message string `json:"message"`
}

func (v GateViolation) String() string { return v.Gate + ": " + v.Message }

// QualityGate screens a mapping draft before publication. Drafts that
// trip a gate stay in review for steward sign-off instead of
// publishing automatically.
type QualityGate struct {
	// MinConfidence flags entries below this threshold; zero disables.
	MinConfidence float64
}

// Check returns every violation found in the draft's entries.
func (g QualityGate) Check(draft Draft[MappingEntry]) []GateViolation {
	var out []GateViolation

	type key struct{ pattern, sector string }
	byPair := make(map[key]int)
	bySectors := make(map[string]map[string]struct{})
	for _, e := range draft.Entries {
		byPair[key{e.Pattern, e.SectorCode}]++
		if bySectors[e.Pattern] == nil {
			bySectors[e.Pattern] = make(map[string]struct{})
		}
		bySectors[e.Pattern][e.SectorCode] = struct{}{}
		if g.MinConfidence > 0 && e.Confidence < g.MinConfidence {
			out = append(out, GateViolation{
				Gate:    "low_confidence",
				Message: fmt.Sprintf("pattern %q -> %s has confidence %.2f below %.2f", e.Pattern, e.SectorCode, e.Confidence, g.MinConfidence),
			})
		}
	}

	var dupKeys []key
	for k, n := range byPair {
		if n > 1 {
			dupKeys = append(dupKeys, k)
		}
	}
	sort.Slice(dupKeys, func(i, j int) bool {
		if dupKeys[i].pattern != dupKeys[j].pattern {
			return dupKeys[i].pattern < dupKeys[j].pattern
		}
		return dupKeys[i].sector < dupKeys[j].sector
	})
	for _, k := range dupKeys {
		out = append(out, GateViolation{
			Gate:    "duplicate",
			Message: fmt.Sprintf("pattern %q -> %s appears %d times", k.pattern, k.sector, byPair[k]),
		})
	}

	var conflictPatterns []string
	for pattern, sectors := range bySectors {
		if len(sectors) > 1 {
			conflictPatterns = append(conflictPatterns, pattern)
		}
	}
	sort.Strings(conflictPatterns)
	for _, pattern := range conflictPatterns {
		codes := make([]string, 0, len(bySectors[pattern]))
		for c := range bySectors[pattern] {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		out = append(out, GateViolation{
			Gate:    "conflict",
			Message: fmt.Sprintf("pattern %q maps to multiple sectors %v", pattern, codes),
		})
	}
	return out
}
