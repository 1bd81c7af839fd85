package nowcast

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactos/engine/pkg/config"
	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/ras"
)

func newService(t *testing.T) (*Service, *iomodel.Registry, uuid.UUID) {
	t.Helper()
	reg := iomodel.NewRegistry(config.DefaultTolerances(), nil)
	base, err := reg.Register(iomodel.RegisterParams{
		Z:           [][]float64{{10, 5}, {3, 8}},
		X:           []float64{30, 20},
		SectorCodes: []string{"AGR", "MFG"},
		BaseYear:    2023,
		Unit:        "SAR_MILLIONS",
		Source:      iomodel.SourceOfficial,
	})
	require.NoError(t, err)
	svc := NewService(reg, ras.NewBalancer(config.DefaultTolerances()), nil)
	return svc, reg, base.Version().ID
}

func provenanceFor(codes ...string) map[string]TargetProvenance {
	out := make(map[string]TargetProvenance, len(codes))
	for _, c := range codes {
		out[c] = TargetProvenance{Source: "GASTAT quarterly release", Confidence: "HARD"}
	}
	return out
}

func testTargets() Targets {
	// Base row sums are [15, 11] and column sums [13, 13]; these
	// targets are a feasible mild update (both sum to 28).
	return Targets{
		Year:       2025,
		RowTotals:  []float64{16, 12},
		ColTotals:  []float64{14, 14},
		NewOutput:  []float64{32, 22},
		Provenance: provenanceFor("AGR", "MFG"),
	}
}

func TestCreateProducesPendingCandidate(t *testing.T) {
	svc, _, baseID := newService(t)

	cand, err := svc.Create(baseID, testTargets(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cand.Status)
	assert.True(t, cand.Result.Converged)
	assert.Empty(t, cand.Warnings)
	assert.Equal(t, "SAR_MILLIONS", cand.Targets.Unit)

	got, err := svc.Get(cand.ID)
	require.NoError(t, err)
	assert.Equal(t, cand.ID, got.ID)
}

func TestCreateRequiresProvenanceForEverySector(t *testing.T) {
	svc, _, baseID := newService(t)
	targets := testTargets()
	targets.Provenance = provenanceFor("AGR")

	_, err := svc.Create(baseID, targets, uuid.New())
	var verr *iomodel.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provenance", verr.Field)
}

func TestCreateKeepsNonConvergedCandidateWithWarning(t *testing.T) {
	svc, _, baseID := newService(t)
	targets := testTargets()
	// Row and column totals that disagree in sum cannot balance.
	targets.RowTotals = []float64{16, 12}
	targets.ColTotals = []float64{50, 50}

	cand, err := svc.Create(baseID, targets, uuid.New())
	var nonConv *ras.NonConvergenceError
	require.ErrorAs(t, err, &nonConv)
	require.NotNil(t, cand)
	assert.Equal(t, StatusPending, cand.Status)
	assert.False(t, cand.Result.Converged)
	require.NotEmpty(t, cand.Warnings)
	assert.Contains(t, cand.Warnings[0], "did not converge")

	// Approval refuses a non-converged candidate.
	_, err = svc.Approve(cand.ID, uuid.New(), "")
	assert.ErrorAs(t, err, &nonConv)
}

func TestApproveRegistersModelOnce(t *testing.T) {
	svc, reg, baseID := newService(t)
	cand, err := svc.Create(baseID, testTargets(), uuid.New())
	require.NoError(t, err)

	steward := uuid.New()
	model, err := svc.Approve(cand.ID, steward, "quarterly update")
	require.NoError(t, err)

	v := model.Version()
	assert.Equal(t, iomodel.SourceBalancedNowcast, v.Source)
	assert.Equal(t, 2025, v.BaseYear)
	require.NotNil(t, v.ParentID)
	assert.Equal(t, baseID, *v.ParentID)

	// The registered version is resolvable like any other.
	_, err = reg.Get(v.ID)
	require.NoError(t, err)

	got, err := svc.Get(cand.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.NotNil(t, got.ModelVersionID)
	assert.Equal(t, v.ID, *got.ModelVersionID)
	assert.Equal(t, "quarterly update", got.ReviewNote)

	// Approving twice fails.
	_, err = svc.Approve(cand.ID, steward, "")
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusApproved, stateErr.Status)
}

func TestRejectKeepsCandidateForAudit(t *testing.T) {
	svc, _, baseID := newService(t)
	cand, err := svc.Create(baseID, testTargets(), uuid.New())
	require.NoError(t, err)

	steward := uuid.New()
	require.NoError(t, svc.Reject(cand.ID, steward, "totals look stale"))

	got, err := svc.Get(cand.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "totals look stale", got.ReviewNote)
	// Provenance survives rejection.
	assert.Equal(t, "GASTAT quarterly release", got.Targets.Provenance["AGR"].Source)

	_, err = svc.Approve(cand.ID, steward, "")
	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)

	err = svc.Reject(cand.ID, steward, "")
	assert.ErrorAs(t, err, &stateErr)
}

func TestUnknownCandidate(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Get(uuid.New())
	assert.ErrorIs(t, err, ErrCandidateNotFound)
	_, err = svc.Approve(uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrCandidateNotFound)
	assert.ErrorIs(t, svc.Reject(uuid.New(), uuid.New(), ""), ErrCandidateNotFound)
}
