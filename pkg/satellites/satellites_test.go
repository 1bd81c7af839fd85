package satellites

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoefficients() Coefficients {
	return Coefficients{
		VersionID: uuid.New(),
		Jobs: map[string]Coefficient{
			"AGR": {Value: 2.0, Confidence: "HARD"},
			"MFG": {Value: 0.5, Confidence: "ESTIMATED"},
		},
		ImportRatio: map[string]Coefficient{
			"AGR": {Value: 0.1, Confidence: "HARD"},
			"MFG": {Value: 0.4, Confidence: "HARD"},
		},
		VARatio: map[string]Coefficient{
			"AGR": {Value: 0.6, Confidence: "HARD"},
			"MFG": {Value: 0.3, Confidence: "HARD"},
		},
	}
}

func TestComputeLinearTransforms(t *testing.T) {
	coeffs := testCoefficients()
	res, err := Accounts{}.Compute([]string{"AGR", "MFG"}, []float64{10, 20}, coeffs)
	require.NoError(t, err)

	assert.Equal(t, []float64{20, 10}, res.DeltaJobs)
	assert.Equal(t, []float64{1, 8}, res.DeltaImports)
	assert.Equal(t, []float64{9, 12}, res.DeltaDomesticOutput)
	assert.Equal(t, []float64{6, 6}, res.DeltaVA)
	assert.Equal(t, coeffs.VersionID, res.CoefficientsVersionID)

	// Worst coefficient confidence per sector.
	assert.Equal(t, "HARD", res.SectorConfidence[0])
	assert.Equal(t, "ESTIMATED", res.SectorConfidence[1])
}

func TestComputeNegativeShock(t *testing.T) {
	res, err := Accounts{}.Compute([]string{"AGR", "MFG"}, []float64{-10, 0}, testCoefficients())
	require.NoError(t, err)
	assert.Equal(t, -20.0, res.DeltaJobs[0])
	assert.Equal(t, -9.0, res.DeltaDomesticOutput[0])
}

func TestMissingCoefficientFailsWithoutFallback(t *testing.T) {
	coeffs := testCoefficients()
	delete(coeffs.Jobs, "MFG")

	_, err := Accounts{}.Compute([]string{"AGR", "MFG"}, []float64{10, 20}, coeffs)
	var merr *MissingCoefficientError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "MFG", merr.Sector)
	assert.Equal(t, "jobs", merr.Kind)
}

func TestFallbackPolicyDefaultsAsAssumed(t *testing.T) {
	coeffs := testCoefficients()
	delete(coeffs.Jobs, "MFG")
	zero := 0.0
	acc := Accounts{Fallback: &Fallback{Jobs: &zero}}

	res, err := acc.Compute([]string{"AGR", "MFG"}, []float64{10, 20}, coeffs)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.DeltaJobs[1])
	assert.Equal(t, "ASSUMED", res.SectorConfidence[1])
}

func TestDimensionMismatch(t *testing.T) {
	_, err := Accounts{}.Compute([]string{"AGR", "MFG"}, []float64{10}, testCoefficients())
	require.Error(t, err)
}

func TestCoefficientInversionHelpers(t *testing.T) {
	coeffs := testCoefficients()
	acc := Accounts{}

	jobs, err := acc.JobsCoefficient(coeffs, "AGR")
	require.NoError(t, err)
	assert.Equal(t, 2.0, jobs)

	imp, err := acc.ImportCoefficient(coeffs, "MFG")
	require.NoError(t, err)
	assert.Equal(t, 0.4, imp)

	_, err = acc.JobsCoefficient(coeffs, "SVC")
	var merr *MissingCoefficientError
	require.ErrorAs(t, err, &merr)
}
