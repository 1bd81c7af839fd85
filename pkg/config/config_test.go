package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTolerances(t *testing.T) {
	tol := DefaultTolerances()
	assert.Equal(t, 1e-10, tol.Ratio)
	assert.Equal(t, 1e-6, tol.Inverse)
	assert.Equal(t, 1e-8, tol.RAS)
	assert.Equal(t, 1000, tol.RASMaxIterations)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RAS_TOLERANCE", "1e-6")
	t.Setenv("RAS_MAX_ITERATIONS", "250")

	cfg := Load()
	assert.Equal(t, 1e-6, cfg.Tolerances.RAS)
	assert.Equal(t, 250, cfg.Tolerances.RASMaxIterations)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
name: KSA Default
code: ksa
tolerances:
  ratio: 1e-10
  inverse: 1e-6
  ras: 1e-8
  ras_max_iterations: 500
tier_ranges:
  saudi_ready: [0.70, 0.85, 1.00]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_ksa.yaml"), content, 0o644))

	profile, err := LoadProfile(dir, "KSA")
	require.NoError(t, err)
	assert.Equal(t, "KSA Default", profile.Name)
	assert.Equal(t, 500, profile.Tolerances.RASMaxIterations)
	assert.Equal(t, [3]float64{0.70, 0.85, 1.00}, profile.TierRanges["saudi_ready"])
	assert.Equal(t, 0.10, profile.KnownPctSensitivity)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "xx")
	assert.Error(t, err)
}
