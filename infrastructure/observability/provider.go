package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter indicates an unsupported trace exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter type")

// Provider owns the tracer and meter providers of a process.
type Provider struct {
	config        Config
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	reader        *sdkmetric.ManualReader
	shutdownFuncs []func(context.Context) error
}

// New creates a new observability provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Provider{
		config:        cfg,
		tracer:        noop.NewTracerProvider().Tracer(cfg.ServiceName),
		meterProvider: metricnoop.NewMeterProvider(),
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	if err := p.setupTracing(ctx, res); err != nil {
		return nil, err
	}
	if cfg.Metrics {
		p.reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(p.reader),
			sdkmetric.WithResource(res),
		)
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
		if cfg.Global {
			otel.SetMeterProvider(mp)
		}
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, res *resource.Resource) error {
	var exporter sdktrace.SpanExporter

	switch p.config.Tracing.Exporter {
	case ExporterNone, "":
		return nil

	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if p.config.Tracing.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(p.config.Tracing.Writer))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return fmt.Errorf("stdout exporter: %w", err)
		}
		exporter = exp

	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.config.Tracing.Endpoint),
		}
		if p.config.Tracing.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("otlp exporter: %w", err)
		}
		exporter = exp

	default:
		return fmt.Errorf("%w: %q", ErrUnknownExporter, p.config.Tracing.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.Tracing.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(p.config.Tracing.SampleRate)),
	)

	if p.config.Global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	p.tracer = tp.Tracer(TracerName)
	p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	return nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the run tracer. It is a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// MeterProvider returns the meter provider for telemetry.MetricsConfig.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Snapshot collects the current metric values keyed by instrument name.
// Counters report their sum; histograms report their observation count.
// It returns nil when metrics are disabled.
func (p *Provider) Snapshot(ctx context.Context) (map[string]float64, error) {
	if p.reader == nil {
		return nil, nil
	}

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = float64(total)
			case metricdata.Sum[float64]:
				var total float64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = total
			case metricdata.Histogram[float64]:
				var count uint64
				for _, dp := range data.DataPoints {
					count += dp.Count
				}
				out[m.Name] = float64(count)
			}
		}
	}
	return out, nil
}

// Shutdown flushes pending spans and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}
