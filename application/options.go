package application

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/telemetry"
)

// Option configures the engine.
type Option func(*EngineConfig)

// WithOracle sets the decision oracle.
func WithOracle(o puzzle.Oracle) Option {
	return func(c *EngineConfig) {
		c.Oracle = o
	}
}

// WithInterface sets the puzzle interface. When it also implements
// puzzle.Lifecycle it is opened before the loop and closed after it.
func WithInterface(i puzzle.Interface) Option {
	return func(c *EngineConfig) {
		c.Interface = i
	}
}

// WithStore sets the run store.
func WithStore(s run.Store) Option {
	return func(c *EngineConfig) {
		c.Store = s
	}
}

// WithNotifier sets the receiver of run lifecycle events.
func WithNotifier(n notification.Notifier) Option {
	return func(c *EngineConfig) {
		c.Notifier = n
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *EngineConfig) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *EngineConfig) {
		c.Tracer = t
	}
}

// WithMaxIterations sets the maximum number of loop passes.
func WithMaxIterations(n int) Option {
	return func(c *EngineConfig) {
		c.MaxIterations = n
	}
}

// WithFinalLevel sets the level whose solution ends the run.
func WithFinalLevel(n int) Option {
	return func(c *EngineConfig) {
		c.FinalLevel = n
	}
}

// WithReadTimeout bounds the wait for a reply.
func WithReadTimeout(d time.Duration) Option {
	return func(c *EngineConfig) {
		c.ReadTimeout = d
	}
}

// WithSubmitTimeout bounds the wait for a rejection.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *EngineConfig) {
		c.SubmitTimeout = d
	}
}

// WithOracleTimeout bounds a single oracle call.
func WithOracleTimeout(d time.Duration) Option {
	return func(c *EngineConfig) {
		c.OracleTimeout = d
	}
}

// WithFallbackQuestion sets the question asked when the oracle proposes
// nothing usable.
func WithFallbackQuestion(q string) Option {
	return func(c *EngineConfig) {
		c.FallbackQuestion = q
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *EngineConfig) {
		c.IDGenerator = fn
	}
}

// NewEngineWithOptions creates an engine with functional options.
func NewEngineWithOptions(opts ...Option) (*Engine, error) {
	config := EngineConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewEngine(config)
}
