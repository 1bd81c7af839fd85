// Package workforce refines employment impacts into occupation,
// nationality, and compliance detail. It consumes curated, versioned
// inputs (occupation bridge, nationality classifications, saudization
// targets) and never estimates them itself.
package workforce

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is the three-tier nationality feasibility classification.
type Tier string

const (
	SaudiReady     Tier = "SAUDI_READY"
	SaudiTrainable Tier = "SAUDI_TRAINABLE"
	ExpatReliant   Tier = "EXPAT_RELIANT"
)

// ComplianceStatus is the 5-state Nitaqat verdict for a sector.
type ComplianceStatus string

const (
	Compliant        ComplianceStatus = "COMPLIANT"
	AtRisk           ComplianceStatus = "AT_RISK"
	NonCompliant     ComplianceStatus = "NON_COMPLIANT"
	NoTarget         ComplianceStatus = "NO_TARGET"
	InsufficientData ComplianceStatus = "INSUFFICIENT_DATA"
)

// iscoLabels maps ISCO-08 major groups to display labels.
var iscoLabels = map[string]string{
	"0": "Armed Forces",
	"1": "Managers",
	"2": "Professionals",
	"3": "Technicians",
	"4": "Clerical Support",
	"5": "Service and Sales",
	"6": "Agricultural Workers",
	"7": "Craft Workers",
	"8": "Plant/Machine Operators",
	"9": "Elementary Occupations",
}

// elementaryOccupation is the fallback bucket for sectors with no
// bridge coverage.
const elementaryOccupation = "9"

// unmappedOccupation receives the residual job mass when a sector's
// bridge shares cover less than the whole sector.
const unmappedOccupation = "UNMAPPED"

// BridgeEntry is one sector-to-occupation share with its source quality.
type BridgeEntry struct {
	SectorCode     string  `json:"sector_code"`
	OccupationCode string  `json:"occupation_code"`
	Share          float64 `json:"share"`
	Confidence     string  `json:"confidence"`
}

// Bridge is a versioned sector x occupation share matrix.
type Bridge struct {
	VersionID uuid.UUID     `json:"version_id"`
	Year      int           `json:"year"`
	Entries   []BridgeEntry `json:"entries"`
}

// Shares returns the occupation shares for one sector, or nil when the
// bridge does not cover it.
func (b *Bridge) Shares(sectorCode string) map[string]BridgeEntry {
	var out map[string]BridgeEntry
	for _, e := range b.Entries {
		if e.SectorCode == sectorCode {
			if out == nil {
				out = make(map[string]BridgeEntry)
			}
			out[e.OccupationCode] = e
		}
	}
	return out
}

// Validate checks that no share is negative and that no covered
// sector's shares sum above 1 within tolerance. Under-coverage is
// legal; the analysis routes the residual to the UNMAPPED bucket.
func (b *Bridge) Validate(tol float64) []string {
	var issues []string
	sums := make(map[string]float64)
	for _, e := range b.Entries {
		if e.Share < 0 {
			issues = append(issues, fmt.Sprintf("sector %s occupation %s has negative share %.4f", e.SectorCode, e.OccupationCode, e.Share))
		}
		sums[e.SectorCode] += e.Share
	}
	for sector, sum := range sums {
		if sum > 1.0+tol {
			issues = append(issues, fmt.Sprintf("sector %s occupation shares sum to %.4f, want at most 1.0", sector, sum))
		}
	}
	return issues
}

// Classification assigns a (sector, occupation) cell to a tier, with an
// optional observed Saudi share from labor-market data.
type Classification struct {
	SectorCode      string   `json:"sector_code"`
	OccupationCode  string   `json:"occupation_code"`
	Tier            Tier     `json:"tier"`
	CurrentSaudiPct *float64 `json:"current_saudi_pct,omitempty"`
	Confidence      string   `json:"confidence"`
	Rationale       string   `json:"rationale,omitempty"`
}

// ClassificationSet is a versioned set of nationality classifications.
type ClassificationSet struct {
	VersionID       uuid.UUID        `json:"version_id"`
	Year            int              `json:"year"`
	Classifications []Classification `json:"classifications"`
}

// Get returns the classification for a cell, or nil.
func (s *ClassificationSet) Get(sectorCode, occupationCode string) *Classification {
	for i := range s.Classifications {
		c := &s.Classifications[i]
		if c.SectorCode == sectorCode && c.OccupationCode == occupationCode {
			return c
		}
	}
	return nil
}

// Override is an analyst correction to a classification cell, tracked
// for audit. Later overrides for the same cell replace earlier ones.
type Override struct {
	SectorCode     string    `json:"sector_code"`
	OccupationCode string    `json:"occupation_code"`
	Tier           Tier      `json:"tier"`
	OverriddenBy   string    `json:"overridden_by"`
	Rationale      string    `json:"rationale"`
	AppliedAt      time.Time `json:"applied_at"`
}

// ApplyOverrides returns a copy of the set with overrides applied in
// order, latest-wins per cell, plus the audit trail of what each
// override replaced.
func (s *ClassificationSet) ApplyOverrides(overrides []Override) (*ClassificationSet, []AppliedOverride) {
	out := &ClassificationSet{
		VersionID:       s.VersionID,
		Year:            s.Year,
		Classifications: append([]Classification(nil), s.Classifications...),
	}
	var audit []AppliedOverride
	for _, o := range overrides {
		original := Tier("")
		found := false
		for i := range out.Classifications {
			c := &out.Classifications[i]
			if c.SectorCode == o.SectorCode && c.OccupationCode == o.OccupationCode {
				original = c.Tier
				c.Tier = o.Tier
				c.Confidence = "ESTIMATED"
				c.Rationale = o.Rationale
				found = true
				break
			}
		}
		if !found {
			out.Classifications = append(out.Classifications, Classification{
				SectorCode:     o.SectorCode,
				OccupationCode: o.OccupationCode,
				Tier:           o.Tier,
				Confidence:     "ESTIMATED",
				Rationale:      o.Rationale,
			})
		}
		audit = append(audit, AppliedOverride{
			SectorCode:     o.SectorCode,
			OccupationCode: o.OccupationCode,
			OriginalTier:   original,
			OverrideTier:   o.Tier,
			OverriddenBy:   o.OverriddenBy,
			Rationale:      o.Rationale,
			AppliedAt:      o.AppliedAt,
		})
	}
	return out, audit
}

// AppliedOverride is the audit record for one applied override.
type AppliedOverride struct {
	SectorCode     string    `json:"sector_code"`
	OccupationCode string    `json:"occupation_code"`
	OriginalTier   Tier      `json:"original_tier"`
	OverrideTier   Tier      `json:"override_tier"`
	OverriddenBy   string    `json:"overridden_by"`
	Rationale      string    `json:"rationale"`
	AppliedAt      time.Time `json:"applied_at"`
}

// Target is a macro saudization target for a sector, as a range.
type Target struct {
	SectorCode   string  `json:"sector_code"`
	EffectivePct float64 `json:"effective_pct"`
	RangeLow     float64 `json:"range_low"`
	RangeHigh    float64 `json:"range_high"`
}

// Targets is a versioned set of macro saudization targets.
type Targets struct {
	VersionID uuid.UUID `json:"version_id"`
	Year      int       `json:"year"`
	Targets   []Target  `json:"targets"`
}

// Get returns the target for a sector, or nil.
func (t *Targets) Get(sectorCode string) *Target {
	for i := range t.Targets {
		if t.Targets[i].SectorCode == sectorCode {
			return &t.Targets[i]
		}
	}
	return nil
}

// Baseline is the current employment stock of one sector, required for
// a meaningful compliance check.
type Baseline struct {
	SectorCode       string  `json:"sector_code"`
	TotalEmployment  float64 `json:"total_employment"`
	SaudiEmployment  float64 `json:"saudi_employment"`
	SourceConfidence string  `json:"source_confidence,omitempty"`
}
