// Package observability provides OpenTelemetry tracing and an in-process
// metrics reader for runs.
package observability

import (
	"io"
	"time"
)

// Config configures the observability infrastructure.
type Config struct {
	// ServiceName is the name of the service for telemetry.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Tracing configures run tracing.
	Tracing TracingConfig

	// Metrics enables the in-process metric reader.
	Metrics bool

	// Global installs the tracer provider and propagators globally.
	Global bool
}

// TracingConfig configures run tracing.
type TracingConfig struct {
	// Exporter specifies the trace exporter type.
	Exporter ExporterType

	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	Endpoint string

	// Insecure disables TLS for the exporter connection.
	Insecure bool

	// SampleRate is the sampling rate (0.0-1.0, default: 1.0).
	SampleRate float64

	// BatchTimeout is the batch export timeout.
	BatchTimeout time.Duration

	// Writer receives stdout exporter output. Nil means os.Stdout.
	Writer io.Writer
}

// ExporterType specifies the trace exporter.
type ExporterType string

const (
	// ExporterNone disables tracing.
	ExporterNone ExporterType = "none"

	// ExporterStdout writes spans as JSON.
	ExporterStdout ExporterType = "stdout"

	// ExporterOTLP exports to an OTLP gRPC collector.
	ExporterOTLP ExporterType = "otlp"
)

// DefaultConfig returns tracing disabled and metrics off.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "merlin-agent",
		ServiceVersion: "dev",
		Tracing: TracingConfig{
			Exporter:     ExporterNone,
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SampleRate:   1.0,
			BatchTimeout: 5 * time.Second,
		},
	}
}

// Option configures the provider.
type Option func(*Config)

// WithServiceName sets the service name.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion sets the service version.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithStdoutTracing enables tracing to w (os.Stdout when nil).
func WithStdoutTracing(w io.Writer) Option {
	return func(c *Config) {
		c.Tracing.Exporter = ExporterStdout
		c.Tracing.Writer = w
	}
}

// WithOTLPTracing enables tracing to an OTLP collector.
func WithOTLPTracing(endpoint string, insecure bool) Option {
	return func(c *Config) {
		c.Tracing.Exporter = ExporterOTLP
		if endpoint != "" {
			c.Tracing.Endpoint = endpoint
		}
		c.Tracing.Insecure = insecure
	}
}

// WithSampleRate sets the trace sampling rate.
func WithSampleRate(rate float64) Option {
	return func(c *Config) {
		c.Tracing.SampleRate = rate
	}
}

// WithMetrics enables the in-process metric reader.
func WithMetrics() Option {
	return func(c *Config) {
		c.Metrics = true
	}
}

// WithGlobal installs the providers as the otel globals.
func WithGlobal() Option {
	return func(c *Config) {
		c.Global = true
	}
}
