package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngagementProfile is a per-engagement configuration profile. Profiles
// override the default tolerance table and pin the workforce tier ranges
// agreed with the client.
type EngagementProfile struct {
	Name       string     `yaml:"name" json:"name"`
	Code       string     `yaml:"code" json:"code"`
	Tolerances Tolerances `yaml:"tolerances" json:"tolerances"`
	// TierRanges maps tier name to [min, mid, max] Saudi share.
	TierRanges map[string][3]float64 `yaml:"tier_ranges,omitempty" json:"tier_ranges,omitempty"`
	// KnownPctSensitivity is the ± band around an observed Saudi share.
	KnownPctSensitivity float64 `yaml:"known_pct_sensitivity,omitempty" json:"known_pct_sensitivity,omitempty"`
}

// LoadProfile loads an engagement profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*EngagementProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile EngagementProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Tolerances == (Tolerances{}) {
		profile.Tolerances = DefaultTolerances()
	}
	if profile.KnownPctSensitivity == 0 {
		profile.KnownPctSensitivity = 0.10
	}
	return &profile, nil
}
