package flywheel

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/workforce"
)

// BridgeEntry is one sector-by-occupation share in the versioned
// occupation-bridge library.
type BridgeEntry struct {
	ID             uuid.UUID `json:"id"`
	SectorCode     string    `json:"sector_code"`
	OccupationCode string    `json:"occupation_code"`
	Share          float64   `json:"share"`
	Confidence     string    `json:"confidence"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BridgeLibrary is the versioned workforce occupation-bridge library.
type BridgeLibrary struct {
	*Library[BridgeEntry]
}

// NewBridgeLibrary builds a bridge library over the given store.
func NewBridgeLibrary(store VersionStore[Version[BridgeEntry]]) *BridgeLibrary {
	return &BridgeLibrary{Library: NewLibrary(store, func(e BridgeEntry) uuid.UUID { return e.ID })}
}

// ValidateShares checks that each sector's shares sum to 1 within tol.
func ValidateShares(entries []BridgeEntry, tol float64) error {
	sums := make(map[string]float64)
	for _, e := range entries {
		if e.Share < 0 {
			return fmt.Errorf("bridge entry %s/%s: negative share %g", e.SectorCode, e.OccupationCode, e.Share)
		}
		sums[e.SectorCode] += e.Share
	}
	for sector, sum := range sums {
		if math.Abs(sum-1) > tol {
			return fmt.Errorf("bridge sector %s: shares sum to %g, want 1", sector, sum)
		}
	}
	return nil
}

// ToBridge materializes the active version as a workforce bridge for
// the satellite pipeline. The bridge carries the library version ID so
// run snapshots can pin it.
func (l *BridgeLibrary) ToBridge(year int) (workforce.Bridge, bool) {
	active, ok := l.Active()
	if !ok {
		return workforce.Bridge{}, false
	}
	bridge := workforce.Bridge{VersionID: active.ID, Year: year}
	for _, e := range active.Entries {
		bridge.Entries = append(bridge.Entries, workforce.BridgeEntry{
			SectorCode:     e.SectorCode,
			OccupationCode: e.OccupationCode,
			Share:          e.Share,
			Confidence:     e.Confidence,
		})
	}
	return bridge, true
}
