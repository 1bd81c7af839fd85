// Package nowcast governs the lifecycle of RAS-balanced candidate
// models. A balance never becomes an active model version silently: a
// steward reviews the candidate's convergence diagnostics and either
// approves it into the model registry or rejects it. Rejected
// candidates are kept for audit, target provenance included.
package nowcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/observability"
	"github.com/impactos/engine/pkg/provenance"
	"github.com/impactos/engine/pkg/ras"
)

// Status is the candidate lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ErrCandidateNotFound is returned for unknown candidate IDs.
var ErrCandidateNotFound = errors.New("nowcast candidate not found")

// InvalidStateError reports a lifecycle transition from the wrong state,
// approving twice included.
type InvalidStateError struct {
	CandidateID uuid.UUID
	Status      Status
	Action      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s nowcast candidate %s in status %s", e.Action, e.CandidateID, e.Status)
}

// TargetProvenance records where a target total came from. It is kept
// on the candidate for audit even when the candidate is rejected.
type TargetProvenance = provenance.Record

// Targets are the row/column totals for the target year, each with
// provenance keyed by sector code.
type Targets struct {
	Year       int                         `json:"year"`
	RowTotals  []float64                   `json:"row_totals"`
	ColTotals  []float64                   `json:"col_totals"`
	NewOutput  []float64                   `json:"new_output"`
	Unit       string                      `json:"unit"`
	Provenance map[string]TargetProvenance `json:"provenance"`
}

// Candidate is one balanced-but-unpublished model awaiting review.
type Candidate struct {
	ID          uuid.UUID  `json:"id"`
	BaseModelID uuid.UUID  `json:"base_model_id"`
	Targets     Targets    `json:"targets"`
	Result      ras.Result `json:"result"`
	Warnings    []string   `json:"warnings,omitempty"`
	Status      Status     `json:"status"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	DecidedBy   *uuid.UUID `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	ReviewNote  string     `json:"review_note,omitempty"`
	// ModelVersionID is set once an approval registers the candidate.
	ModelVersionID *uuid.UUID `json:"model_version_id,omitempty"`
}

// Service runs the create/approve/reject lifecycle over a registry.
type Service struct {
	mu         sync.Mutex
	registry   *iomodel.Registry
	balancer   ras.Balancer
	candidates map[uuid.UUID]*Candidate
	metrics    *observability.Provider
	log        *slog.Logger
}

// NewService wires a nowcast service to the model registry.
func NewService(registry *iomodel.Registry, balancer ras.Balancer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry:   registry,
		balancer:   balancer,
		candidates: make(map[uuid.UUID]*Candidate),
		log:        log,
	}
}

// WithMetrics attaches a metrics provider for non-convergence counts.
func (s *Service) WithMetrics(m *observability.Provider) *Service {
	s.metrics = m
	return s
}

// Create balances the base model's transactions to the target totals
// and stores the result as a pending candidate. Every target must
// carry provenance. A non-converged balance still produces a candidate
// so the diagnostics are reviewable, but the NonConvergenceError is
// returned alongside it and approval will refuse the candidate.
func (s *Service) Create(baseModelID uuid.UUID, targets Targets, createdBy uuid.UUID) (*Candidate, error) {
	base, err := s.registry.Get(baseModelID)
	if err != nil {
		return nil, err
	}
	n := base.N()
	if len(targets.NewOutput) != n {
		return nil, &iomodel.ValidationError{Field: "new_output", Msg: fmt.Sprintf("length %d does not match %d sectors", len(targets.NewOutput), n)}
	}
	for _, code := range base.SectorCodes() {
		if _, ok := targets.Provenance[code]; !ok {
			return nil, &iomodel.ValidationError{Field: "provenance", Msg: fmt.Sprintf("sector %s has no target provenance", code)}
		}
	}
	if targets.Unit == "" {
		targets.Unit = base.Version().Unit
	}

	z0 := make([][]float64, n)
	for i := 0; i < n; i++ {
		z0[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			z0[i][j] = base.Transactions(i, j)
		}
	}

	result, balanceErr := s.balancer.Balance(z0, targets.RowTotals, targets.ColTotals)
	var nonConv *ras.NonConvergenceError
	if balanceErr != nil && !errors.As(balanceErr, &nonConv) {
		return nil, balanceErr
	}

	cand := &Candidate{
		ID:          uuid.New(),
		BaseModelID: baseModelID,
		Targets:     targets,
		Result:      result,
		Status:      StatusPending,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	if nonConv != nil {
		cand.Warnings = append(cand.Warnings, fmt.Sprintf(
			"balance did not converge after %d iterations (error %.3g)", result.Iterations, result.FinalError))
		if s.metrics != nil {
			s.metrics.NonConvergence(context.Background(), result.Iterations, result.FinalError)
		}
	}
	if result.SignificantStructuralChange() {
		cand.Warnings = append(cand.Warnings, fmt.Sprintf(
			"structural change %.2f exceeds review threshold", result.StructuralChange))
	}

	s.mu.Lock()
	s.candidates[cand.ID] = cand
	s.mu.Unlock()

	s.log.Info("nowcast candidate created",
		"candidate_id", cand.ID,
		"base_model_id", baseModelID,
		"target_year", targets.Year,
		"converged", result.Converged,
		"iterations", result.Iterations,
		"structural_change", result.StructuralChange,
		"warnings", len(cand.Warnings))

	if nonConv != nil {
		return cand, nonConv
	}
	return cand, nil
}

// Approve registers a pending, converged candidate as a model version.
// Approving a candidate twice fails with InvalidStateError.
func (s *Service) Approve(candidateID, approvedBy uuid.UUID, note string) (*iomodel.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[candidateID]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", candidateID, ErrCandidateNotFound)
	}
	if cand.Status != StatusPending {
		return nil, &InvalidStateError{CandidateID: candidateID, Status: cand.Status, Action: "approve"}
	}

	base, err := s.registry.Get(cand.BaseModelID)
	if err != nil {
		return nil, err
	}
	model, err := s.balancer.ToModelVersion(s.registry, cand.Result, cand.Targets.NewOutput,
		base.SectorCodes(), cand.Targets.Year, cand.Targets.Unit, cand.BaseModelID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := model.Version().ID
	cand.Status = StatusApproved
	cand.DecidedBy = &approvedBy
	cand.DecidedAt = &now
	cand.ReviewNote = note
	cand.ModelVersionID = &id

	s.log.Info("nowcast candidate approved",
		"candidate_id", candidateID,
		"model_version_id", id,
		"approved_by", approvedBy)
	return model, nil
}

// Reject discards a pending candidate. The candidate record, target
// provenance included, remains retrievable for audit.
func (s *Service) Reject(candidateID, rejectedBy uuid.UUID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[candidateID]
	if !ok {
		return fmt.Errorf("candidate %s: %w", candidateID, ErrCandidateNotFound)
	}
	if cand.Status != StatusPending {
		return &InvalidStateError{CandidateID: candidateID, Status: cand.Status, Action: "reject"}
	}

	now := time.Now().UTC()
	cand.Status = StatusRejected
	cand.DecidedBy = &rejectedBy
	cand.DecidedAt = &now
	cand.ReviewNote = note

	s.log.Info("nowcast candidate rejected",
		"candidate_id", candidateID,
		"rejected_by", rejectedBy)
	return nil
}

// Get returns a candidate by ID, whatever its status.
func (s *Service) Get(candidateID uuid.UUID) (*Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cand, ok := s.candidates[candidateID]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", candidateID, ErrCandidateNotFound)
	}
	copied := *cand
	return &copied, nil
}

// List returns all candidates, pending and decided.
func (s *Service) List() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	return out
}
