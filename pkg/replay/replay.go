// Package replay verifies run reproducibility: re-executing a sealed
// snapshot's request against the same model and library versions must
// produce the same result checksum. A mismatch means a referenced
// version changed underneath the snapshot or the pipeline lost
// determinism, both of which are reportable defects.
package replay

import (
	"context"
	"fmt"

	"github.com/impactos/engine/pkg/run"
	"github.com/impactos/engine/pkg/versioning"
)

// Report is the outcome of one replay.
type Report struct {
	RunID            string `json:"run_id"`
	Match            bool   `json:"match"`
	ExpectedChecksum string `json:"expected_checksum"`
	ActualChecksum   string `json:"actual_checksum"`
	InputChecksumOK  bool   `json:"input_checksum_ok"`
	ReplayedRunID    string `json:"replayed_run_id"`
}

// Verifier re-executes runs through the same runner the originals used.
type Verifier struct {
	Runner *run.Runner
}

// Replay re-executes the request and compares against the sealed
// snapshot. The request must be the one the snapshot was built from;
// an input checksum mismatch fails before any solving happens.
func (v Verifier) Replay(ctx context.Context, req run.Request, snapshot run.Snapshot) (*Report, error) {
	if !snapshot.Sealed {
		return nil, fmt.Errorf("run %s: snapshot is not sealed", snapshot.RunID)
	}
	compatible, err := versioning.CompatibleWithEngine(snapshot.EngineVersion)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", snapshot.RunID, err)
	}
	if !compatible {
		return nil, fmt.Errorf("run %s: snapshot built by engine %s, current engine is %s",
			snapshot.RunID, snapshot.EngineVersion, versioning.EngineVersion)
	}

	// The result set embeds the run ID, so the replay must reuse it
	// for the checksums to be comparable.
	req.RunID = snapshot.RunID
	req.ModelVersionID = snapshot.ModelVersionID

	res, err := v.Runner.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("replaying run %s: %w", snapshot.RunID, err)
	}

	report := &Report{
		RunID:            snapshot.RunID.String(),
		ExpectedChecksum: snapshot.ResultChecksum,
		ActualChecksum:   res.Snapshot.ResultChecksum,
		InputChecksumOK:  res.Snapshot.InputChecksum == snapshot.InputChecksum,
		ReplayedRunID:    res.Snapshot.RunID.String(),
	}
	report.Match = report.InputChecksumOK && report.ExpectedChecksum == report.ActualChecksum
	return report, nil
}
