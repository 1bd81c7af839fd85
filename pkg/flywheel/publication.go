package flywheel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
	"github.com/impactos/engine/pkg/ledger"
	"github.com/impactos/engine/pkg/observability"
)

// CycleReport records what one publication cycle did.
type CycleReport struct {
	DraftID          uuid.UUID       `json:"draft_id"`
	OverridesFolded  int             `json:"overrides_folded"`
	Violations       []GateViolation `json:"violations,omitempty"`
	HeldForReview    bool            `json:"held_for_review"`
	Published        bool            `json:"published"`
	PublishedVersion *uuid.UUID      `json:"published_version,omitempty"`
	VersionNumber    int             `json:"version_number,omitempty"`
}

// PublicationService runs the learning loop end to end: fold overrides
// into a draft, screen it through the quality gate, and publish when
// clean. Gated drafts are held for steward review rather than
// published. Content-identical drafts publish as a no-op.
type PublicationService struct {
	Library      *MappingLibrary
	Loop         *LearningLoop
	Gate         QualityGate
	MinFrequency int
	Ledger       *ledger.PublicationLedger
	Metrics      *observability.Provider
	Log          *slog.Logger
}

// RunCycle executes one publication cycle over overrides recorded at
// or after since.
func (s *PublicationService) RunCycle(since time.Time, publishedBy uuid.UUID) (CycleReport, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	minFreq := s.MinFrequency
	if minFreq < 1 {
		minFreq = 2
	}

	draft, err := s.Library.BuildDraft(s.Loop, since, minFreq)
	if err != nil {
		return CycleReport{}, fmt.Errorf("building mapping draft: %w", err)
	}
	report := CycleReport{
		DraftID:         draft.ID,
		OverridesFolded: len(s.Loop.Overrides(since)),
	}

	if violations := s.Gate.Check(draft); len(violations) > 0 {
		report.Violations = violations
		report.HeldForReview = true
		log.Warn("mapping draft held for steward review",
			"draft_id", draft.ID,
			"violations", len(violations))
		return report, nil
	}

	prevNumber := 0
	if active, ok := s.Library.Active(); ok {
		prevNumber = active.VersionNumber
	}
	version, err := s.Library.Publish(draft, publishedBy)
	if err != nil {
		return report, err
	}
	report.VersionNumber = version.VersionNumber
	if version.VersionNumber > prevNumber {
		report.Published = true
		id := version.ID
		report.PublishedVersion = &id
		if s.Ledger != nil {
			checksum, err := canonicalize.Checksum(version.Entries)
			if err != nil {
				return report, fmt.Errorf("checksumming published mapping version: %w", err)
			}
			if _, err := s.Ledger.Record(ledger.PublicationRecord{
				Library:         "mapping",
				VersionID:       version.ID,
				VersionNumber:   version.VersionNumber,
				ContentChecksum: checksum,
				ChangeLog:       version.ChangeLog,
				PublishedBy:     publishedBy,
			}); err != nil {
				return report, fmt.Errorf("recording publication: %w", err)
			}
		}
		if s.Metrics != nil {
			s.Metrics.LibraryPublished(context.Background(), "mapping", version.VersionNumber)
		}
		log.Info("mapping library published",
			"version_id", version.ID,
			"version_number", version.VersionNumber,
			"change_log", version.ChangeLog)
	} else {
		log.Info("mapping draft identical to active version, publish skipped",
			"draft_id", draft.ID,
			"active_version", version.ID)
	}
	return report, nil
}
