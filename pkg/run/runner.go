package run

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/impactos/engine/pkg/canonicalize"
	"github.com/impactos/engine/pkg/confidence"
	"github.com/impactos/engine/pkg/feasibility"
	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/ledger"
	"github.com/impactos/engine/pkg/leontief"
	"github.com/impactos/engine/pkg/observability"
	"github.com/impactos/engine/pkg/registry"
	"github.com/impactos/engine/pkg/satellites"
	"github.com/impactos/engine/pkg/versioning"
	"github.com/impactos/engine/pkg/workforce"
)

// bridgeShareTol is the slack allowed on occupation bridge share sums
// before a run is rejected.
const bridgeShareTol = 1e-6

// Request describes one scenario run. DemandShock is required; the
// per-year AnnualShocks map additionally produces phased aggregates.
// Optional version IDs pin upstream artifacts into the snapshot.
type Request struct {
	RunID          uuid.UUID
	ModelVersionID uuid.UUID
	DemandShock    []float64
	AnnualShocks   map[int][]float64
	Year           *int
	Closed         bool

	Coefficients  satellites.Coefficients
	ConstraintSet *feasibility.Set

	// CoefficientPack names a published pack to resolve instead of
	// supplying Coefficients directly. The active pack's version ID is
	// pinned into the snapshot.
	CoefficientPack string

	Workforce          *workforce.Satellite
	WorkforceBaselines []workforce.Baseline
	WorkforceOverrides []workforce.Override

	TaxonomyVersionID     *uuid.UUID
	ConcordanceVersionID  *uuid.UUID
	MappingVersionID      *uuid.UUID
	AssumptionVersionID   *uuid.UUID
	PromptPackVersionID   *uuid.UUID
	BridgeVersionID       *uuid.UUID
	ClassificationVersion *uuid.UUID
	TargetsVersionID      *uuid.UUID

	// Sensitivity adds low/high bands on feasible sector outputs.
	Sensitivity bool

	// SensitivityMultipliers makes Batch.Execute expand this request
	// into one run per multiplier, each with its shocks scaled. The
	// Runner itself ignores the field.
	SensitivityMultipliers []float64
}

// Band is a low/high sensitivity interval around a reported value.
type Band struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Result is everything one run produced, snapshot included.
type Result struct {
	Snapshot Snapshot

	Solve       leontief.SolveResult
	Closed      *leontief.ClosedResult
	Phased      *leontief.PhasedResult
	Feasibility *feasibility.Result
	Satellite   satellites.Result
	Workforce   *workforce.Result

	BudgetApplied bool
	ResultSet     ResultSet
	// SensitivityBands is keyed by sector code.
	SensitivityBands map[string]Band
}

// Runner executes the pipeline. All fields are read-only once
// constructed, so one Runner serves concurrent runs.
type Runner struct {
	Registry    *iomodel.Registry
	Packs       *registry.PackRegistry
	Solver      leontief.Solver
	Feasibility feasibility.Solver
	Accounts    satellites.Accounts
	Ledger      *ledger.Ledger
	Metrics     *observability.Provider
	Log         *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Execute runs the pipeline: budget pre-solve, Leontief, feasibility,
// satellites, workforce. Stages always run in that order because each
// consumes its predecessor's output.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	if r.Metrics != nil {
		r.Metrics.RunStarted(ctx)
	}

	res, err := r.execute(ctx, req)

	if r.Metrics != nil {
		bindings := 0
		if res != nil && res.Feasibility != nil {
			bindings = len(res.Feasibility.BindingConstraints)
		}
		r.Metrics.RunCompleted(ctx, req.ModelVersionID.String(), time.Since(started), bindings, err)
	}
	if err != nil {
		r.logger().Error("run failed",
			"run_id", req.RunID,
			"model_version_id", req.ModelVersionID,
			"err", err)
		return nil, err
	}
	r.logger().Info("run completed",
		"run_id", req.RunID,
		"model_version_id", req.ModelVersionID,
		"duration_ms", time.Since(started).Milliseconds(),
		"result_checksum", res.Snapshot.ResultChecksum)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.validateRequest(&req); err != nil {
		return nil, err
	}
	model, err := r.Registry.Get(req.ModelVersionID)
	if err != nil {
		return nil, err
	}
	codes := model.SectorCodes()

	deltaD := append([]float64(nil), req.DemandShock...)
	budgetApplied := false
	if req.ConstraintSet != nil {
		deltaD, budgetApplied = feasibility.ApplyBudget(deltaD, codes, req.ConstraintSet)
	}

	out := &Result{BudgetApplied: budgetApplied}

	out.Solve, err = r.Solver.Solve(model, deltaD)
	if err != nil {
		return nil, err
	}
	if req.Closed && model.HasHouseholdBlock() {
		closed, err := r.Solver.SolveClosed(model, deltaD)
		if err != nil {
			return nil, err
		}
		out.Closed = &closed
	}
	if len(req.AnnualShocks) > 0 {
		shocks := req.AnnualShocks
		if req.ConstraintSet != nil {
			shocks = make(map[int][]float64, len(req.AnnualShocks))
			for year, shock := range req.AnnualShocks {
				adjusted, _ := feasibility.ApplyBudget(shock, codes, req.ConstraintSet)
				shocks[year] = adjusted
			}
		}
		phased, err := r.Solver.SolvePhased(model, shocks)
		if err != nil {
			return nil, err
		}
		out.Phased = &phased
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feasible := out.Solve.Total
	if req.ConstraintSet != nil {
		fr, err := r.Feasibility.Solve(feasibility.Input{
			Unconstrained: out.Solve.Total,
			BaseX:         model.Output(),
			SectorCodes:   codes,
			Coefficients:  req.Coefficients,
			Set:           req.ConstraintSet,
			Year:          req.Year,
		})
		if err != nil {
			return nil, err
		}
		out.Feasibility = fr
		out.Satellite = fr.FeasibleSatellite
		feasible = fr.FeasibleDeltaX
	} else {
		out.Satellite, err = r.Accounts.Compute(codes, feasible, req.Coefficients)
		if err != nil {
			return nil, err
		}
	}

	if req.Workforce != nil {
		wf, err := req.Workforce.Analyze(codes, out.Satellite.DeltaJobs, req.WorkforceBaselines, req.WorkforceOverrides)
		if err != nil {
			return nil, err
		}
		out.Workforce = wf
	}

	if req.Sensitivity {
		out.SensitivityBands = sensitivityBands(codes, feasible, out.Satellite.SectorConfidence)
	}

	out.ResultSet = r.buildResultSet(req, out, codes, feasible)
	if err := r.sealSnapshot(req, out); err != nil {
		return nil, err
	}
	if err := r.appendLedger(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateRequest resolves a named coefficient pack and rejects
// malformed curated inputs before any solve work starts.
func (r *Runner) validateRequest(req *Request) error {
	if req.CoefficientPack != "" {
		if r.Packs == nil {
			return &iomodel.ValidationError{
				Field: "coefficient_pack",
				Msg:   fmt.Sprintf("pack %q requested but no pack registry configured", req.CoefficientPack),
			}
		}
		pack, ok := r.Packs.ActiveFor(req.CoefficientPack)
		if !ok {
			return fmt.Errorf("no active pack named %q: %w", req.CoefficientPack, registry.ErrPackNotFound)
		}
		req.Coefficients = pack.Coefficients
	}
	if req.ConstraintSet != nil {
		if issues := req.ConstraintSet.Validate(); len(issues) > 0 {
			return &iomodel.ValidationError{
				Field: "constraint_set",
				Msg:   strings.Join(issues, "; "),
			}
		}
	}
	if req.Workforce != nil && req.Workforce.Bridge != nil {
		if issues := req.Workforce.Bridge.Validate(bridgeShareTol); len(issues) > 0 {
			return &iomodel.ValidationError{
				Field: "occupation_bridge",
				Msg:   strings.Join(issues, "; "),
			}
		}
	}
	return nil
}

func sensitivityBands(codes []string, feasible []float64, sectorConfidence []string) map[string]Band {
	bands := make(map[string]Band, len(codes))
	for i, code := range codes {
		label := string(confidence.Assumed)
		if i < len(sectorConfidence) {
			label = confidence.Normalize(sectorConfidence[i])
		}
		low, high := confidence.Band(feasible[i], label)
		bands[code] = Band{Low: low, High: high}
	}
	return bands
}

func (r *Runner) buildResultSet(req Request, out *Result, codes []string, feasible []float64) ResultSet {
	rs := ResultSet{RunID: req.RunID}
	year := 0
	if req.Year != nil {
		year = *req.Year
	}
	for i, code := range codes {
		rs.add(MetricDeltaOutput, code, year, out.Solve.Total[i])
		rs.add(MetricDeltaOutputDirect, code, year, out.Solve.Direct[i])
		rs.add(MetricDeltaOutputIndirect, code, year, out.Solve.Indirect[i])
		rs.add(MetricDeltaOutputFeasible, code, year, feasible[i])
		rs.add(MetricDeltaJobs, code, year, out.Satellite.DeltaJobs[i])
		rs.add(MetricDeltaImports, code, year, out.Satellite.DeltaImports[i])
		rs.add(MetricDeltaDomestic, code, year, out.Satellite.DeltaDomesticOutput[i])
		rs.add(MetricDeltaVA, code, year, out.Satellite.DeltaVA[i])
		if out.Closed != nil {
			rs.add(MetricDeltaOutputInduced, code, year, out.Closed.Induced[i])
		}
		if out.Feasibility != nil {
			rs.add(MetricOutputGap, code, year, out.Solve.Total[i]-feasible[i])
		}
	}
	if out.Workforce != nil {
		for _, sum := range out.Workforce.SectorSummaries {
			rs.add(MetricSaudiJobsMid, sum.SectorCode, year, sum.ProjectedSaudiMid)
		}
	}
	if out.Phased != nil {
		for yr, annual := range out.Phased.Annual {
			for i, code := range codes {
				rs.add(MetricDeltaOutput, code, yr, annual.Total[i])
			}
		}
	}
	return rs
}

func (r *Runner) sealSnapshot(req Request, out *Result) error {
	inputChecksum, err := canonicalize.Checksum(struct {
		ModelVersionID uuid.UUID         `json:"model_version_id"`
		DemandShock    []float64         `json:"demand_shock"`
		AnnualShocks   map[int][]float64 `json:"annual_shocks,omitempty"`
		Closed         bool              `json:"closed"`
	}{req.ModelVersionID, req.DemandShock, req.AnnualShocks, req.Closed})
	if err != nil {
		return fmt.Errorf("checksumming run input: %w", err)
	}

	snap := Snapshot{
		RunID:                 req.RunID,
		EngineVersion:         versioning.EngineVersion,
		CreatedAt:             time.Now().UTC(),
		ModelVersionID:        req.ModelVersionID,
		CoefficientsVersionID: req.Coefficients.VersionID,
		TaxonomyVersionID:     req.TaxonomyVersionID,
		ConcordanceVersionID:  req.ConcordanceVersionID,
		MappingVersionID:      req.MappingVersionID,
		AssumptionVersionID:   req.AssumptionVersionID,
		PromptPackVersionID:   req.PromptPackVersionID,
		BridgeVersionID:       req.BridgeVersionID,
		ClassificationVersion: req.ClassificationVersion,
		TargetsVersionID:      req.TargetsVersionID,
		InputChecksum:         inputChecksum,
	}
	if req.ConstraintSet != nil {
		id := req.ConstraintSet.ID
		snap.ConstraintSetID = &id
	}
	if err := snap.seal(out.ResultSet); err != nil {
		return err
	}
	out.Snapshot = snap
	return nil
}

func (r *Runner) appendLedger(req Request, out *Result) error {
	if r.Ledger == nil {
		return nil
	}
	_, err := r.Ledger.Append("run_completed", "engine", map[string]any{
		"run_id":           req.RunID.String(),
		"model_version_id": req.ModelVersionID.String(),
		"input_checksum":   out.Snapshot.InputChecksum,
		"result_checksum":  out.Snapshot.ResultChecksum,
	})
	if err != nil {
		return fmt.Errorf("appending run ledger entry: %w", err)
	}
	return nil
}
