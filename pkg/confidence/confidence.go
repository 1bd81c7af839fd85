// Package confidence defines the three-level confidence vocabulary used on
// constraints, coefficients, and workforce classifications, and the ranking
// rules for propagating the worst confidence through a pipeline.
package confidence

import "strings"

// Label is a confidence label attached to an input or derived value.
type Label string

const (
	Hard      Label = "HARD"
	Estimated Label = "ESTIMATED"
	Assumed   Label = "ASSUMED"
)

// rank orders the canonical labels, higher is worse.
var rank = map[string]int{
	"HARD":      0,
	"ESTIMATED": 1,
	"ASSUMED":   2,
}

// aliases folds the quality vocabulary (HIGH/MEDIUM/LOW) used by
// curated data sources into the canonical labels.
var aliases = map[string]string{
	"HIGH":   "HARD",
	"MEDIUM": "ESTIMATED",
	"LOW":    "ASSUMED",
}

// Normalize maps any confidence string (either vocabulary, any case) to
// its canonical uppercase form. Unknown strings normalize to ASSUMED.
func Normalize(s string) string {
	u := strings.ToUpper(strings.TrimSpace(s))
	if canonical, ok := aliases[u]; ok {
		return canonical
	}
	if _, ok := rank[u]; ok {
		return u
	}
	return string(Assumed)
}

// Worst returns the least certain of the given labels. An empty call
// returns ASSUMED.
func Worst(labels ...string) string {
	if len(labels) == 0 {
		return string(Assumed)
	}
	worst := Normalize(labels[0])
	for _, l := range labels[1:] {
		n := Normalize(l)
		if rank[n] > rank[worst] {
			worst = n
		}
	}
	return worst
}
