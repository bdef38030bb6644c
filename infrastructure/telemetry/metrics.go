// Package telemetry provides OpenTelemetry metrics for puzzle runs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	actions     metric.Int64Counter
	transitions metric.Int64Counter
	fallbacks   metric.Int64Counter
	levels      metric.Int64Counter
	errors      metric.Int64Counter

	// Histograms
	actionDuration metric.Float64Histogram
	oracleDuration metric.Float64Histogram
	runDuration    metric.Float64Histogram

	// Gauges (using UpDownCounter for OpenTelemetry)
	activeRuns         metric.Int64UpDownCounter
	circuitBreakerOpen metric.Int64UpDownCounter

	initErr error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter (default: "github.com/felixgeelhaar/merlin-agent").
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
	// MeterProvider supplies the meter; the global provider is used when nil.
	MeterProvider metric.MeterProvider
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/merlin-agent",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config.MeterName = DefaultMetricsConfig().MeterName
	}

	provider := config.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	mp := &MetricsProvider{
		meter: provider.Meter(
			config.MeterName,
			metric.WithInstrumentationVersion(config.MeterVersion),
		),
	}
	mp.initErr = mp.initInstruments()

	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	var err error

	mp.actions, err = mp.meter.Int64Counter(
		"merlin.actions",
		metric.WithDescription("Number of executed puzzle actions"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	mp.transitions, err = mp.meter.Int64Counter(
		"merlin.phase.transitions",
		metric.WithDescription("Number of sequencer phase transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	mp.fallbacks, err = mp.meter.Int64Counter(
		"merlin.oracle.fallbacks",
		metric.WithDescription("Number of fallback actions substituted for oracle proposals"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return err
	}

	mp.levels, err = mp.meter.Int64Counter(
		"merlin.levels.solved",
		metric.WithDescription("Number of puzzle levels solved"),
		metric.WithUnit("{level}"),
	)
	if err != nil {
		return err
	}

	mp.errors, err = mp.meter.Int64Counter(
		"merlin.errors",
		metric.WithDescription("Number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	mp.actionDuration, err = mp.meter.Float64Histogram(
		"merlin.action.duration",
		metric.WithDescription("Duration of puzzle actions"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.oracleDuration, err = mp.meter.Float64Histogram(
		"merlin.oracle.duration",
		metric.WithDescription("Duration of oracle proposals"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.runDuration, err = mp.meter.Float64Histogram(
		"merlin.run.duration",
		metric.WithDescription("Duration of puzzle runs"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.activeRuns, err = mp.meter.Int64UpDownCounter(
		"merlin.runs.active",
		metric.WithDescription("Number of active runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	mp.circuitBreakerOpen, err = mp.meter.Int64UpDownCounter(
		"merlin.circuitbreaker.open",
		metric.WithDescription("Whether the puzzle interface circuit is open"),
		metric.WithUnit("{circuit}"),
	)
	return err
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

// RecordAction records an executed action and its outcome.
func (mp *MetricsProvider) RecordAction(ctx context.Context, kind, outcome string, failed bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("action.kind", kind),
		attribute.String("action.outcome", outcome),
		attribute.Bool("failed", failed),
	)

	mp.actions.Add(ctx, 1, attrs)
	mp.actionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordTransition records a sequencer phase transition.
func (mp *MetricsProvider) RecordTransition(ctx context.Context, from, to string) {
	mp.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase.from", from),
		attribute.String("phase.to", to),
	))
}

// RecordFallback records a fallback substitution.
func (mp *MetricsProvider) RecordFallback(ctx context.Context, reason string) {
	mp.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("fallback.reason", reason)))
}

// RecordOracleDuration records how long a proposal took.
func (mp *MetricsProvider) RecordOracleDuration(ctx context.Context, duration time.Duration, success bool) {
	mp.oracleDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordLevelSolved records a solved level.
func (mp *MetricsProvider) RecordLevelSolved(ctx context.Context, level int) {
	mp.levels.Add(ctx, 1, metric.WithAttributes(attribute.Int("puzzle.level", level)))
}

// RecordError records an error.
func (mp *MetricsProvider) RecordError(ctx context.Context, errorType string) {
	mp.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", errorType)))
}

// RecordRunDuration records the duration of a run.
func (mp *MetricsProvider) RecordRunDuration(ctx context.Context, duration time.Duration, reason string) {
	mp.runDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("termination.reason", reason),
	))
}

// IncrementActiveRuns increments the active runs counter.
func (mp *MetricsProvider) IncrementActiveRuns(ctx context.Context) {
	mp.activeRuns.Add(ctx, 1)
}

// DecrementActiveRuns decrements the active runs counter.
func (mp *MetricsProvider) DecrementActiveRuns(ctx context.Context) {
	mp.activeRuns.Add(ctx, -1)
}

// RecordCircuitBreakerStateChange records the puzzle interface circuit opening or closing.
func (mp *MetricsProvider) RecordCircuitBreakerStateChange(ctx context.Context, isOpen bool) {
	if isOpen {
		mp.circuitBreakerOpen.Add(ctx, 1)
	} else {
		mp.circuitBreakerOpen.Add(ctx, -1)
	}
}

// NoopMetricsProvider is a no-op metrics provider for testing or when metrics are disabled.
type NoopMetricsProvider struct{}

func (NoopMetricsProvider) RecordAction(context.Context, string, string, bool, time.Duration) {}
func (NoopMetricsProvider) RecordTransition(context.Context, string, string)                  {}
func (NoopMetricsProvider) RecordFallback(context.Context, string)                            {}
func (NoopMetricsProvider) RecordOracleDuration(context.Context, time.Duration, bool)         {}
func (NoopMetricsProvider) RecordLevelSolved(context.Context, int)                            {}
func (NoopMetricsProvider) RecordError(context.Context, string)                               {}
func (NoopMetricsProvider) RecordRunDuration(context.Context, time.Duration, string)          {}
func (NoopMetricsProvider) IncrementActiveRuns(context.Context)                               {}
func (NoopMetricsProvider) DecrementActiveRuns(context.Context)                               {}
func (NoopMetricsProvider) RecordCircuitBreakerStateChange(context.Context, bool)             {}

// Metrics defines the interface for metrics recording.
type Metrics interface {
	RecordAction(ctx context.Context, kind, outcome string, failed bool, duration time.Duration)
	RecordTransition(ctx context.Context, from, to string)
	RecordFallback(ctx context.Context, reason string)
	RecordOracleDuration(ctx context.Context, duration time.Duration, success bool)
	RecordLevelSolved(ctx context.Context, level int)
	RecordError(ctx context.Context, errorType string)
	RecordRunDuration(ctx context.Context, duration time.Duration, reason string)
	IncrementActiveRuns(ctx context.Context)
	DecrementActiveRuns(ctx context.Context)
	RecordCircuitBreakerStateChange(ctx context.Context, isOpen bool)
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*MetricsProvider)(nil)
	_ Metrics = NoopMetricsProvider{}
)
