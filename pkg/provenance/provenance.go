// Package provenance tags externally supplied numbers (target totals,
// satellite coefficients, constraint bounds) with their origin and
// evidence trail. Governance review reads these records when deciding
// whether a nowcast or coefficient pack is trustworthy enough to
// publish.
package provenance

import (
	"fmt"
	"time"

	"github.com/impactos/engine/pkg/canonicalize"
)

// SourceType classifies where a value came from.
type SourceType string

const (
	SourceOfficialStats   SourceType = "official_stats"
	SourceClientData      SourceType = "client_data"
	SourceAnalystEstimate SourceType = "analyst_estimate"
	SourceDerived         SourceType = "derived"
)

// Transform is one recorded derivation step applied to the raw value.
type Transform struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Record is the provenance of one external input. It travels with the
// value and survives rejection of whatever consumed it.
type Record struct {
	Source       string      `json:"source"`
	SourceType   SourceType  `json:"source_type,omitempty"`
	EvidenceRefs []string    `json:"evidence_refs,omitempty"`
	Confidence   string      `json:"confidence,omitempty"`
	Transforms   []Transform `json:"transforms,omitempty"`
	// ContentChecksum pins the exact payload the record describes.
	ContentChecksum string    `json:"content_checksum,omitempty"`
	RecordedAt      time.Time `json:"recorded_at,omitempty"`
}

// WithTransform appends a derivation step, returning the new record.
func (r Record) WithTransform(kind, detail string) Record {
	r.Transforms = append(append([]Transform(nil), r.Transforms...), Transform{
		Kind:      kind,
		Detail:    detail,
		AppliedAt: time.Now().UTC(),
	})
	return r
}

// Seal checksums the payload into the record so later consumers can
// detect drift between the record and the value it describes.
func (r Record) Seal(payload any) (Record, error) {
	sum, err := canonicalize.Checksum(payload)
	if err != nil {
		return r, fmt.Errorf("sealing provenance record: %w", err)
	}
	r.ContentChecksum = sum
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	return r, nil
}

// Verify reports whether the payload still matches the sealed checksum.
func (r Record) Verify(payload any) (bool, error) {
	if r.ContentChecksum == "" {
		return false, fmt.Errorf("provenance record is not sealed")
	}
	sum, err := canonicalize.Checksum(payload)
	if err != nil {
		return false, err
	}
	return sum == r.ContentChecksum, nil
}
