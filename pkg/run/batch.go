package run

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Batch executes many independent runs. Runs share the read-only model
// cache and never exchange state, so a worker pool is all the
// coordination needed.
type Batch struct {
	Runner *Runner
	// Workers caps concurrency; zero defaults to GOMAXPROCS.
	Workers int
}

// Outcome pairs one expanded request's result with its error and the
// sensitivity multiplier that produced it.
type Outcome struct {
	Result     *Result
	Err        error
	Multiplier float64
}

// variant is one expanded request awaiting execution.
type variant struct {
	req        Request
	multiplier float64
}

// Execute expands every request into one run per sensitivity
// multiplier and returns outcomes aligned with the expansion order
// (request order, then multiplier order). A request without
// multipliers runs once at 1.0. A failed run never affects its
// siblings; cancellation via ctx stops unstarted work.
func (b Batch) Execute(ctx context.Context, requests []Request) []Outcome {
	variants := expandVariants(requests)

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(variants) {
		workers = len(variants)
	}

	outcomes := make([]Outcome, len(variants))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := b.Runner.Execute(ctx, variants[i].req)
				outcomes[i] = Outcome{Result: res, Err: err, Multiplier: variants[i].multiplier}
			}
		}()
	}

	for i := range variants {
		select {
		case jobs <- i:
		case <-ctx.Done():
			outcomes[i] = Outcome{Err: ctx.Err(), Multiplier: variants[i].multiplier}
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// expandVariants turns each request into one variant per multiplier,
// scaling the demand shock and every annual shock. Expanded variants
// mint their own run IDs so each seals a distinct snapshot.
func expandVariants(requests []Request) []variant {
	var out []variant
	for _, req := range requests {
		mults := req.SensitivityMultipliers
		if len(mults) == 0 {
			out = append(out, variant{req: req, multiplier: 1.0})
			continue
		}
		for _, m := range mults {
			v := req
			v.SensitivityMultipliers = nil
			v.RunID = uuid.Nil
			v.DemandShock = scaleVector(req.DemandShock, m)
			if len(req.AnnualShocks) > 0 {
				v.AnnualShocks = make(map[int][]float64, len(req.AnnualShocks))
				for year, shock := range req.AnnualShocks {
					v.AnnualShocks[year] = scaleVector(shock, m)
				}
			}
			out = append(out, variant{req: v, multiplier: m})
		}
	}
	return out
}

func scaleVector(v []float64, m float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * m
	}
	return out
}
