package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/nowcast"
	"github.com/impactos/engine/pkg/provenance"
	"github.com/impactos/engine/pkg/ras"
)

// targetsFile is the YAML schema accepted by `impactos nowcast`.
type targetsFile struct {
	Year       int                         `yaml:"year"`
	RowTotals  []float64                   `yaml:"row_totals"`
	ColTotals  []float64                   `yaml:"col_totals"`
	NewOutput  []float64                   `yaml:"new_output"`
	Unit       string                      `yaml:"unit,omitempty"`
	Provenance map[string]targetProvenance `yaml:"provenance"`
}

type targetProvenance struct {
	Source     string `yaml:"source"`
	SourceType string `yaml:"source_type"`
	Confidence string `yaml:"confidence"`
}

// runNowcastCmd implements `impactos nowcast`: balance a base scenario
// model to target totals and print the draft candidate report. The
// candidate is printed even when the balance does not converge; the
// exit code flags it.
//
// Exit codes:
//
//	0 = candidate created, balance converged
//	1 = candidate created, balance did not converge
//	2 = bad arguments or runtime error
func runNowcastCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("nowcast", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		scenarioPath string
		targetsPath  string
		profilesDir  string
		profileCode  string
	)
	cmd.StringVar(&scenarioPath, "scenario", "", "Path to the base scenario YAML (REQUIRED)")
	cmd.StringVar(&targetsPath, "targets", "", "Path to the target-totals YAML (REQUIRED)")
	cmd.StringVar(&profilesDir, "profiles", "profiles", "Directory holding engagement profiles")
	cmd.StringVar(&profileCode, "profile", "", "Engagement profile code overriding the default tolerances")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if scenarioPath == "" || targetsPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --scenario and --targets are required")
		return 2
	}

	sc, err := loadScenario(scenarioPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	targets, err := loadTargets(targetsPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := slog.New(slog.NewTextHandler(stderr, nil))
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

	svc := nowcast.NewService(registry, ras.NewBalancer(tol), log)
	cand, err := svc.Create(req.ModelVersionID, targets, uuid.New())
	var nonConv *ras.NonConvergenceError
	if err != nil && !errors.As(err, &nonConv) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, merr := json.MarshalIndent(cand, "", "  ")
	if merr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", merr)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	if nonConv != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: %v\n", nonConv)
		return 1
	}
	return 0
}

func loadTargets(path string) (nowcast.Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nowcast.Targets{}, fmt.Errorf("reading targets: %w", err)
	}
	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nowcast.Targets{}, fmt.Errorf("parsing targets %s: %w", path, err)
	}

	targets := nowcast.Targets{
		Year:       tf.Year,
		RowTotals:  tf.RowTotals,
		ColTotals:  tf.ColTotals,
		NewOutput:  tf.NewOutput,
		Unit:       tf.Unit,
		Provenance: make(map[string]nowcast.TargetProvenance, len(tf.Provenance)),
	}
	for code, p := range tf.Provenance {
		targets.Provenance[code] = nowcast.TargetProvenance{
			Source:     p.Source,
			SourceType: provenance.SourceType(p.SourceType),
			Confidence: p.Confidence,
		}
	}
	return targets, nil
}
