package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorstPropagation(t *testing.T) {
	assert.Equal(t, "ASSUMED", Worst("HARD", "ESTIMATED", "ASSUMED"))
	assert.Equal(t, "ESTIMATED", Worst("HARD", "estimated"))
	assert.Equal(t, "HARD", Worst("HARD", "hard"))

	// Quality vocabulary folds into the confidence vocabulary.
	assert.Equal(t, "ASSUMED", Worst("HIGH", "MEDIUM", "LOW"))
	assert.Equal(t, "ESTIMATED", Worst("HIGH", "MEDIUM"))
}

func TestNormalizeFoldsQualityVocabulary(t *testing.T) {
	assert.Equal(t, "HARD", Normalize("HIGH"))
	assert.Equal(t, "ESTIMATED", Normalize("medium"))
	assert.Equal(t, "ASSUMED", Normalize("Low"))
}

func TestNormalizeUnknownIsAssumed(t *testing.T) {
	assert.Equal(t, "ASSUMED", Normalize("dubious"))
	assert.Equal(t, "ASSUMED", Worst())
}

func TestBandWidthThreeTiers(t *testing.T) {
	assert.Equal(t, BandWidth("HARD"), BandWidth("HIGH"))
	assert.Equal(t, BandWidth("ESTIMATED"), BandWidth("MEDIUM"))
	assert.Equal(t, BandWidth("ASSUMED"), BandWidth("LOW"))
}

func TestBandScalesWithMagnitude(t *testing.T) {
	low, high := Band(100, "HARD")
	assert.InDelta(t, 95, low, 1e-12)
	assert.InDelta(t, 105, high, 1e-12)

	low, high = Band(-200, "ASSUMED")
	assert.InDelta(t, -260, low, 1e-12)
	assert.InDelta(t, -140, high, 1e-12)
	assert.LessOrEqual(t, low, high)
}
