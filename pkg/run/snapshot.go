// Package run executes the full impact pipeline for one scenario and
// pins every versioned input it consumed into an immutable snapshot.
// Leontief, feasibility, satellites, and workforce run in that order;
// each run is independent of every other, so batches parallelize
// freely.
package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
)

// Snapshot binds a run to the exact version IDs of everything it read.
// Once sealed it never changes; replaying the same snapshot against the
// same versions must reproduce the same result checksum.
type Snapshot struct {
	RunID         uuid.UUID `json:"run_id"`
	EngineVersion string    `json:"engine_version"`
	CreatedAt     time.Time `json:"created_at"`

	ModelVersionID        uuid.UUID  `json:"model_version_id"`
	CoefficientsVersionID uuid.UUID  `json:"coefficients_version_id"`
	ConstraintSetID       *uuid.UUID `json:"constraint_set_id,omitempty"`
	TaxonomyVersionID     *uuid.UUID `json:"taxonomy_version_id,omitempty"`
	ConcordanceVersionID  *uuid.UUID `json:"concordance_version_id,omitempty"`
	MappingVersionID      *uuid.UUID `json:"mapping_version_id,omitempty"`
	AssumptionVersionID   *uuid.UUID `json:"assumption_version_id,omitempty"`
	PromptPackVersionID   *uuid.UUID `json:"prompt_pack_version_id,omitempty"`
	BridgeVersionID       *uuid.UUID `json:"bridge_version_id,omitempty"`
	ClassificationVersion *uuid.UUID `json:"classification_version_id,omitempty"`
	TargetsVersionID      *uuid.UUID `json:"targets_version_id,omitempty"`

	InputChecksum  string `json:"input_checksum"`
	ResultChecksum string `json:"result_checksum"`
	Sealed         bool   `json:"sealed"`
}

// seal computes the result checksum and freezes the snapshot.
func (s *Snapshot) seal(results ResultSet) error {
	sum, err := canonicalize.Checksum(results)
	if err != nil {
		return fmt.Errorf("sealing run %s: %w", s.RunID, err)
	}
	s.ResultChecksum = sum
	s.Sealed = true
	return nil
}

// Point is one numeric output keyed by metric, sector, and year.
type Point struct {
	Metric string  `json:"metric"`
	Sector string  `json:"sector"`
	Year   int     `json:"year,omitempty"`
	Value  float64 `json:"value"`
}

// ResultSet is the structured numeric output of one run. The core
// never formats narrative; downstream layers render these points.
type ResultSet struct {
	RunID  uuid.UUID `json:"run_id"`
	Points []Point   `json:"points"`
}

// Metric names used in result sets.
const (
	MetricDeltaOutput         = "delta_output"
	MetricDeltaOutputFeasible = "delta_output_feasible"
	MetricDeltaOutputDirect   = "delta_output_direct"
	MetricDeltaOutputIndirect = "delta_output_indirect"
	MetricDeltaOutputInduced  = "delta_output_induced"
	MetricDeltaJobs           = "delta_jobs"
	MetricDeltaImports        = "delta_imports"
	MetricDeltaDomestic       = "delta_domestic_output"
	MetricDeltaVA             = "delta_value_added"
	MetricOutputGap           = "output_gap"
	MetricSaudiJobsMid        = "saudi_jobs_mid"
)

// add appends one point.
func (r *ResultSet) add(metric, sector string, year int, value float64) {
	r.Points = append(r.Points, Point{Metric: metric, Sector: sector, Year: year, Value: value})
}

// Total sums a metric over all sectors and years.
func (r ResultSet) Total(metric string) float64 {
	sum := 0.0
	for _, p := range r.Points {
		if p.Metric == metric {
			sum += p.Value
		}
	}
	return sum
}

// Sector returns a metric's value for one sector, summed over years.
func (r ResultSet) Sector(metric, sector string) float64 {
	sum := 0.0
	for _, p := range r.Points {
		if p.Metric == metric && p.Sector == sector {
			sum += p.Value
		}
	}
	return sum
}
