// Package observability instruments the engine with OpenTelemetry
// metrics: run throughput and duration, solver failures, RAS
// non-convergences, and library publications. The default exporter
// writes to stdout; deployments swap in their own reader.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// ExportInterval is how often the periodic reader flushes.
	ExportInterval time.Duration
	Enabled        bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "impactos-engine",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		ExportInterval: 15 * time.Second,
		Enabled:        true,
	}
}

// Provider owns the meter provider and the engine's instruments.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	runCounter         metric.Int64Counter
	runErrorCounter    metric.Int64Counter
	runDuration        metric.Float64Histogram
	nonConvergences    metric.Int64Counter
	publications       metric.Int64Counter
	activeRuns         metric.Int64UpDownCounter
	bindingConstraints metric.Int64Counter
}

// New creates a metrics provider. A disabled config returns a provider
// whose recording methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "metrics disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	p.meter = p.meterProvider.Meter("impactos.engine",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.runCounter, err = p.meter.Int64Counter("engine.runs.total",
		metric.WithDescription("Completed pipeline runs")); err != nil {
		return err
	}
	if p.runErrorCounter, err = p.meter.Int64Counter("engine.runs.errors",
		metric.WithDescription("Runs that failed with a typed error")); err != nil {
		return err
	}
	if p.runDuration, err = p.meter.Float64Histogram("engine.runs.duration_ms",
		metric.WithDescription("End-to-end run duration"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.nonConvergences, err = p.meter.Int64Counter("engine.ras.non_convergences",
		metric.WithDescription("RAS balances that hit the iteration budget")); err != nil {
		return err
	}
	if p.publications, err = p.meter.Int64Counter("engine.library.publications",
		metric.WithDescription("Knowledge library versions published")); err != nil {
		return err
	}
	if p.activeRuns, err = p.meter.Int64UpDownCounter("engine.runs.active",
		metric.WithDescription("Runs currently executing")); err != nil {
		return err
	}
	if p.bindingConstraints, err = p.meter.Int64Counter("engine.feasibility.binding_constraints",
		metric.WithDescription("Binding constraints recorded across runs")); err != nil {
		return err
	}
	return nil
}

// RunStarted marks a run in flight.
func (p *Provider) RunStarted(ctx context.Context) {
	if p.activeRuns == nil {
		return
	}
	p.activeRuns.Add(ctx, 1)
}

// RunCompleted records one finished run.
func (p *Provider) RunCompleted(ctx context.Context, modelVersion string, duration time.Duration, bindingCount int, err error) {
	if p.runCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model_version", modelVersion),
		attribute.Bool("error", err != nil),
	)
	p.activeRuns.Add(ctx, -1)
	p.runCounter.Add(ctx, 1, attrs)
	p.runDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		p.runErrorCounter.Add(ctx, 1, attrs)
	}
	if bindingCount > 0 {
		p.bindingConstraints.Add(ctx, int64(bindingCount), attrs)
	}
}

// NonConvergence records a RAS balance that failed to converge.
func (p *Provider) NonConvergence(ctx context.Context, iterations int, finalError float64) {
	if p.nonConvergences == nil {
		return
	}
	p.nonConvergences.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("iterations", iterations),
	))
	p.logger.WarnContext(ctx, "ras non-convergence recorded",
		"iterations", iterations,
		"final_error", finalError)
}

// LibraryPublished records a knowledge library publication.
func (p *Provider) LibraryPublished(ctx context.Context, library string, versionNumber int) {
	if p.publications == nil {
		return
	}
	p.publications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("library", library),
		attribute.Int("version_number", versionNumber),
	))
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
