// Package versioning provides semantic versioning for engine releases.
// Run snapshots are stamped with the engine version that produced them
// so replays can refuse snapshots from an incompatible solver.
package versioning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EngineVersion is the version of the solver stack stamped into snapshots.
const EngineVersion = "1.0.0"

// Version represents a semantic version following SemVer 2.0.0.
type Version struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Build      string `json:"build,omitempty"`
}

// String returns the string representation of the version.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

var semverRe = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z\-\.]+))?(?:\+([0-9A-Za-z\-\.]+))?$`)

// Parse parses a version string into a Version struct.
func Parse(version string) (*Version, error) {
	matches := semverRe.FindStringSubmatch(version)
	if matches == nil {
		return nil, fmt.Errorf("invalid version string: %s", version)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &Version{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		Prerelease: matches[4],
		Build:      matches[5],
	}, nil
}

// Engine returns the parsed EngineVersion.
func Engine() Version {
	v, err := Parse(EngineVersion)
	if err != nil {
		panic(err)
	}
	return *v
}

// Compare compares two versions.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return compareInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return compareInt(v.Minor, other.Minor)
	}
	if v.Patch != other.Patch {
		return compareInt(v.Patch, other.Patch)
	}
	// Pre-release versions have lower precedence
	if v.Prerelease != "" && other.Prerelease == "" {
		return -1
	}
	if v.Prerelease == "" && other.Prerelease != "" {
		return 1
	}
	return strings.Compare(v.Prerelease, other.Prerelease)
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// IsCompatible checks if other version is compatible with v (same major version).
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// CompatibleWithEngine reports whether a snapshot stamped with the given
// version string can be replayed by the current engine: same major, and
// not newer than the running engine. An empty stamp is treated as
// compatible so pre-stamping snapshots stay replayable.
func CompatibleWithEngine(stamp string) (bool, error) {
	if stamp == "" {
		return true, nil
	}
	v, err := Parse(stamp)
	if err != nil {
		return false, err
	}
	e := Engine()
	if !e.IsCompatible(*v) {
		return false, nil
	}
	// A snapshot from a newer engine may rely on behavior this build
	// does not have yet.
	return e.Compare(*v) >= 0, nil
}

// IncrementMajor returns a new version with major incremented.
func (v Version) IncrementMajor() Version {
	return Version{Major: v.Major + 1, Minor: 0, Patch: 0}
}
