package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/config"
	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/replay"
	"github.com/impactos/engine/pkg/run"
	"github.com/impactos/engine/pkg/store"
)

// runReplayCmd implements `impactos replay`: load a stored snapshot,
// re-execute its scenario, and compare result checksums.
//
// Exit codes:
//
//	0 = replay matched
//	1 = replay mismatched
//	2 = runtime error
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		scenarioPath string
		dbPath       string
		runID        string
		jsonOutput   bool
	)
	cmd.StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML the run was built from (REQUIRED)")
	cmd.StringVar(&dbPath, "db", "", "SQLite database holding the snapshot (REQUIRED)")
	cmd.StringVar(&runID, "run", "", "Run ID to replay (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the replay report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if scenarioPath == "" || dbPath == "" || runID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --scenario, --db, and --run are required")
		return 2
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid run ID: %v\n", err)
		return 2
	}

	sc, err := loadScenario(scenarioPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	db, err := store.Open(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()
	snaps, err := store.NewSQLiteSnapshotStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	snapshot, _, err := snaps.Get(context.Background(), id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := iomodel.NewRegistry(config.DefaultTolerances(), log)
	req, err := sc.toRequest(registry, &snapshot.ModelVersionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	// The stored snapshot pins the coefficient version; the fresh parse
	// minted a new one, so realign for the input checksum comparison.
	req.Coefficients.VersionID = snapshot.CoefficientsVersionID

	verifier := replay.Verifier{Runner: &run.Runner{Registry: registry, Log: log}}
	report, err := verifier.Replay(context.Background(), req, snapshot)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: replay failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Match {
		_, _ = fmt.Fprintf(stdout, "Replay of run %s MATCHED (%s)\n", report.RunID, report.ActualChecksum)
	} else {
		_, _ = fmt.Fprintf(stdout, "Replay of run %s MISMATCHED\n", report.RunID)
		_, _ = fmt.Fprintf(stdout, "  expected %s\n", report.ExpectedChecksum)
		_, _ = fmt.Fprintf(stdout, "  actual   %s\n", report.ActualChecksum)
	}
	if !report.Match {
		return 1
	}
	return 0
}
