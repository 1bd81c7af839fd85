package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/impactos/engine/pkg/config"
	"github.com/impactos/engine/pkg/feasibility"
	"github.com/impactos/engine/pkg/iomodel"
	"github.com/impactos/engine/pkg/run"
	"github.com/impactos/engine/pkg/satellites"
)

// scenarioFile is the YAML schema accepted by `impactos solve`. It
// carries everything one run needs: the base model, the shock, the
// satellite coefficients, and optional constraints.
type scenarioFile struct {
	BaseYear     int                  `yaml:"base_year"`
	Unit         string               `yaml:"unit"`
	Sectors      []string             `yaml:"sectors"`
	Transactions [][]float64          `yaml:"transactions"`
	Output       []float64            `yaml:"output"`
	DemandShock  []float64            `yaml:"demand_shock"`
	AnnualShocks map[int][]float64    `yaml:"annual_shocks,omitempty"`
	Closed       bool                 `yaml:"closed,omitempty"`
	Sensitivity  bool                 `yaml:"sensitivity,omitempty"`
	Coefficients scenarioCoefficients `yaml:"coefficients"`
	Constraints  []scenarioConstraint `yaml:"constraints,omitempty"`
}

type scenarioCoefficients struct {
	Jobs        map[string]scenarioCoefficient `yaml:"jobs"`
	ImportRatio map[string]scenarioCoefficient `yaml:"import_ratio"`
	VARatio     map[string]scenarioCoefficient `yaml:"value_added_ratio"`
}

type scenarioCoefficient struct {
	Value      float64 `yaml:"value"`
	Confidence string  `yaml:"confidence"`
}

type scenarioConstraint struct {
	Sector        string   `yaml:"sector"`
	Type          string   `yaml:"type"`
	Description   string   `yaml:"description,omitempty"`
	UpperBound    *float64 `yaml:"upper_bound,omitempty"`
	LowerBound    *float64 `yaml:"lower_bound,omitempty"`
	MaxGrowthRate *float64 `yaml:"max_growth_rate,omitempty"`
	BoundScope    string   `yaml:"bound_scope,omitempty"`
	Unit          string   `yaml:"unit,omitempty"`
	Confidence    string   `yaml:"confidence,omitempty"`
}

// resolveTolerances returns the default tolerance table, or the one
// from an engagement profile when --profile names one.
func resolveTolerances(profilesDir, code string) (config.Tolerances, error) {
	if code == "" {
		return config.DefaultTolerances(), nil
	}
	profile, err := config.LoadProfile(profilesDir, code)
	if err != nil {
		return config.Tolerances{}, err
	}
	return profile.Tolerances, nil
}

func loadScenario(path string) (*scenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc scenarioFile
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if len(sc.Sectors) == 0 {
		return nil, fmt.Errorf("scenario %s: sectors are required", path)
	}
	if len(sc.DemandShock) != len(sc.Sectors) {
		return nil, fmt.Errorf("scenario %s: demand_shock has %d entries for %d sectors",
			path, len(sc.DemandShock), len(sc.Sectors))
	}
	return &sc, nil
}

func (c scenarioCoefficients) toDomain() satellites.Coefficients {
	out := satellites.Coefficients{
		VersionID:   uuid.New(),
		Jobs:        make(map[string]satellites.Coefficient, len(c.Jobs)),
		ImportRatio: make(map[string]satellites.Coefficient, len(c.ImportRatio)),
		VARatio:     make(map[string]satellites.Coefficient, len(c.VARatio)),
	}
	for code, v := range c.Jobs {
		out.Jobs[code] = satellites.Coefficient{Value: v.Value, Confidence: v.Confidence}
	}
	for code, v := range c.ImportRatio {
		out.ImportRatio[code] = satellites.Coefficient{Value: v.Value, Confidence: v.Confidence}
	}
	for code, v := range c.VARatio {
		out.VARatio[code] = satellites.Coefficient{Value: v.Value, Confidence: v.Confidence}
	}
	return out
}

// toRequest registers the scenario's base model and assembles the run
// request the pipeline consumes. A non-nil modelID pins the model's
// version ID so replays resolve the same model the snapshot recorded.
func (sc *scenarioFile) toRequest(registry *iomodel.Registry, modelID *uuid.UUID) (run.Request, error) {
	model, err := registry.Register(iomodel.RegisterParams{
		ID:          modelID,
		Z:           sc.Transactions,
		X:           sc.Output,
		SectorCodes: sc.Sectors,
		BaseYear:    sc.BaseYear,
		Unit:        sc.Unit,
		Source:      iomodel.SourceOfficial,
	})
	if err != nil {
		return run.Request{}, fmt.Errorf("registering scenario model: %w", err)
	}

	req := run.Request{
		ModelVersionID: model.Version().ID,
		DemandShock:    sc.DemandShock,
		AnnualShocks:   sc.AnnualShocks,
		Closed:         sc.Closed,
		Sensitivity:    sc.Sensitivity,
		Coefficients:   sc.Coefficients.toDomain(),
	}

	if len(sc.Constraints) > 0 {
		constraints := make([]feasibility.Constraint, 0, len(sc.Constraints))
		for i, c := range sc.Constraints {
			if c.Sector == "" {
				return run.Request{}, fmt.Errorf("constraint %d: sector is required", i)
			}
			unit := feasibility.Unit(c.Unit)
			if unit == "" {
				unit = feasibility.Unit(sc.Unit)
			}
			conf := c.Confidence
			if conf == "" {
				conf = "ASSUMED"
			}
			constraints = append(constraints, feasibility.Constraint{
				ID:            uuid.New(),
				Type:          feasibility.Type(c.Type),
				Scope:         feasibility.Scope{Kind: feasibility.ScopeSector, Values: []string{c.Sector}},
				Description:   c.Description,
				UpperBound:    c.UpperBound,
				LowerBound:    c.LowerBound,
				MaxGrowthRate: c.MaxGrowthRate,
				BoundScope:    feasibility.BoundScope(c.BoundScope),
				Unit:          unit,
				Confidence:    conf,
			})
		}
		req.ConstraintSet = feasibility.NewSet(req.ModelVersionID, "scenario constraints", constraints)
	}
	return req, nil
}
