package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/ledger"
	"github.com/impactos/engine/pkg/run"
	"github.com/impactos/engine/pkg/store"
)

// solveOutput is the JSON report `impactos solve` prints.
type solveOutput struct {
	Snapshot  run.Snapshot  `json:"snapshot"`
	Results   run.ResultSet `json:"results"`
	Bands     any           `json:"sensitivity_bands,omitempty"`
	GapTotal  float64       `json:"output_gap_total"`
	JobsTotal float64       `json:"delta_jobs_total"`
}

// runSolveCmd implements `impactos solve`.
//
// Exit codes:
//
//	0 = run completed and sealed
//	2 = bad arguments or run failure
func runSolveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("solve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		scenarioPath string
		dbPath       string
		profilesDir  string
		profileCode  string
		quiet        bool
	)
	cmd.StringVar(&scenarioPath, "scenario", "", "Path to scenario YAML (REQUIRED)")
	cmd.StringVar(&dbPath, "db", "", "SQLite database to persist the snapshot")
	cmd.StringVar(&profilesDir, "profiles", "profiles", "Directory holding engagement profiles")
	cmd.StringVar(&profileCode, "profile", "", "Engagement profile code overriding the default tolerances")
	cmd.BoolVar(&quiet, "quiet", false, "Suppress run logs, print only the JSON report")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if scenarioPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --scenario is required")
		return 2
	}

	sc, err := loadScenario(scenarioPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := slog.New(slog.NewTextHandler(stderr, nil))
	if quiet {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tol, err := resolveTolerances(profilesDir, profileCode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	registry := iomodel.NewRegistry(tol, log)
	req, err := sc.toRequest(registry, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	runner := &run.Runner{
		Registry: registry,
		Ledger:   ledger.New(ledger.TypeRun),
		Log:      log,
	}
	res, err := runner.Execute(context.Background(), req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: run failed: %v\n", err)
		return 2
	}

	if dbPath != "" {
		if err := persistSnapshot(dbPath, res); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		log.Info("snapshot persisted", "db", dbPath, "run_id", res.Snapshot.RunID)
	}

	out := solveOutput{
		Snapshot:  res.Snapshot,
		Results:   res.ResultSet,
		GapTotal:  res.ResultSet.Total(run.MetricOutputGap),
		JobsTotal: res.ResultSet.Total(run.MetricDeltaJobs),
	}
	if len(res.SensitivityBands) > 0 {
		out.Bands = res.SensitivityBands
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func persistSnapshot(dbPath string, res *run.Result) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	snaps, err := store.NewSQLiteSnapshotStore(db)
	if err != nil {
		return err
	}
	return snaps.Save(context.Background(), res.Snapshot, res.ResultSet)
}
