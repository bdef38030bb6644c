package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/config"
	"github.com/felixgeelhaar/merlin-agent/domain/notification"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
	webhook "github.com/felixgeelhaar/merlin-agent/infrastructure/notification"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/observability"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/oracle"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/puzzle/browser"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/puzzle/sandbox"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/resilience"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/badger"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/dynamodb"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/memory"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/mongodb"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/postgres"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/redis"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/telemetry"
)

// Builder builds run components from configuration.
type Builder struct {
	config *config.Config
}

// NewBuilder creates a new configuration builder.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{config: cfg}
}

// Store is a run store that holds a connection.
type Store interface {
	run.Store
	Close() error
}

// LoggingConfig maps the logging section onto the logger configuration.
func (b *Builder) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = b.config.Logging.Level
	lc.Format = b.config.Logging.Format
	return lc
}

// Oracle builds the decision oracle, rate limited when configured.
func (b *Builder) Oracle() (puzzle.Oracle, error) {
	oc := b.config.Oracle

	var o puzzle.Oracle
	switch strings.ToLower(oc.Provider) {
	case "scripted":
		actions := make([]puzzle.Action, 0, len(oc.Script))
		for _, step := range oc.Script {
			actions = append(actions, step.ToAction())
		}
		o = oracle.NewScriptedOracle(actions...)
	case "openai":
		provider := oracle.NewOpenAIProvider(oracle.OpenAIConfig{
			APIKey:  oc.APIKey,
			BaseURL: oc.BaseURL,
			Model:   oc.Model,
			Timeout: timeoutSeconds(b.config.Run.OracleTimeoutMs),
		})
		o = oracle.NewLLMOracle(oracle.LLMOracleConfig{
			Provider:     provider,
			Model:        oc.Model,
			Temperature:  oc.Temperature,
			MaxTokens:    oc.MaxTokens,
			SystemPrompt: oc.SystemPrompt,
		})
	default:
		return nil, fmt.Errorf("%w: unknown oracle provider %q", config.ErrBuildFailed, oc.Provider)
	}

	if oc.RateLimit > 0 {
		o = oracle.NewRateLimited(o, oc.RateLimit)
	}
	return o, nil
}

func timeoutSeconds(ms int) int {
	if ms <= 0 {
		return 0
	}
	if s := ms / 1000; s > 0 {
		return s
	}
	return 1
}

// Puzzle builds the puzzle interface wrapped in the resilience guards.
// onCircuit, when non-nil, observes the circuit opening and closing.
func (b *Builder) Puzzle(onCircuit func(open bool)) (*resilience.Executor, error) {
	pc := b.config.Puzzle

	var inner puzzle.Interface
	switch strings.ToLower(pc.Kind) {
	case "browser":
		bc := browser.DefaultConfig()
		bc.URL = pc.URL
		bc.Headless = pc.IsHeadless()
		bc.UserAgent = pc.UserAgent
		inner = browser.New(bc)
	case "sandbox":
		levels := make([]sandbox.Level, 0, len(pc.Levels))
		for _, lc := range pc.Levels {
			levels = append(levels, sandbox.Level{
				Secret:       lc.Secret,
				Replies:      lc.Replies,
				DefaultReply: lc.DefaultReply,
			})
		}
		inner = sandbox.New(levels, sandbox.WithReplyDelay(pc.ReplyDelay.Duration()))
	default:
		return nil, fmt.Errorf("%w: unknown puzzle kind %q", config.ErrBuildFailed, pc.Kind)
	}

	rc := b.config.Resilience
	ec := resilience.DefaultExecutorConfig()
	ec.CircuitBreakerThreshold = rc.CircuitBreakerThreshold
	ec.CircuitBreakerTimeout = rc.CircuitBreakerTimeout.Duration()
	ec.RetryMaxAttempts = rc.ReadRetryAttempts
	ec.RetryInitialDelay = rc.ReadRetryDelay.Duration()
	ec.OnCircuitChange = onCircuit
	return resilience.NewExecutor(inner, ec), nil
}

// Store opens the configured run store.
func (b *Builder) Store(ctx context.Context) (Store, error) {
	sc := b.config.Storage

	switch strings.ToLower(sc.Backend) {
	case "memory":
		return nopCloser{memory.NewRunStore()}, nil

	case "sqlite":
		store, err := sqlite.NewRunStore(sqlite.DefaultConfig(), sqlite.WithDSN(sc.DSN))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	case "redis":
		store, err := redis.NewRunStore(redis.DefaultConfig(),
			redis.WithAddress(sc.Address),
			redis.WithPassword(sc.Password),
			redis.WithDB(sc.DB),
			redis.WithKeyPrefix(sc.KeyPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	case "badger":
		opts := []badger.Option{badger.WithDir(sc.Dir), badger.WithLogger(badgerLogger{})}
		if sc.KeyPrefix != "" {
			opts = append(opts, badger.WithKeyPrefix(sc.KeyPrefix))
		}
		store, err := badger.NewRunStore(badger.DefaultConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	case "postgres":
		opts := []postgres.Option{postgres.WithDSN(sc.DSN)}
		if sc.Database != "" {
			opts = append(opts, postgres.WithSchema(sc.Database))
		}
		store, err := postgres.NewRunStore(ctx, postgres.DefaultConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	case "mongodb":
		opts := []mongodb.Option{mongodb.WithURI(sc.DSN)}
		if sc.Database != "" {
			opts = append(opts, mongodb.WithDatabase(sc.Database))
		}
		if sc.Table != "" {
			opts = append(opts, mongodb.WithCollection(sc.Table))
		}
		store, err := mongodb.NewRunStore(ctx, mongodb.DefaultConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	case "dynamodb":
		var opts []dynamodb.Option
		if sc.Region != "" {
			opts = append(opts, dynamodb.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			opts = append(opts, dynamodb.WithEndpoint(sc.Endpoint))
		}
		if sc.Table != "" {
			opts = append(opts, dynamodb.WithTableName(sc.Table))
		}
		store, err := dynamodb.NewRunStore(ctx, dynamodb.DefaultConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrBuildFailed, sc.Backend)
	}
}

// Notifier builds the webhook notifier, or returns nil when no webhooks are configured.
func (b *Builder) Notifier() notification.Notifier {
	nc := b.config.Notifications
	if len(nc.Webhooks) == 0 {
		return nil
	}

	cfg := webhook.DefaultWebhookNotifierConfig()
	cfg.EnableBatching = nc.Batch
	// Batches are delivered when the notifier closes at the end of the run.
	cfg.BatcherConfig.MaxWait = b.config.Run.ReadTimeout() * time.Duration(b.config.Run.MaxIterations+1)
	if nc.Timeout > 0 {
		cfg.SenderConfig.Timeout = nc.Timeout.Duration()
	}
	if nc.MaxRetries > 0 {
		cfg.SenderConfig.MaxRetries = nc.MaxRetries
	}

	for _, w := range nc.Webhooks {
		ep := &notification.Endpoint{
			Name:    w.Name,
			URL:     w.URL,
			Secret:  w.Secret,
			Headers: w.Headers,
			Enabled: true,
		}
		if ep.Name == "" {
			ep.Name = w.URL
		}
		if len(w.Events) > 0 {
			types := make([]notification.EventType, len(w.Events))
			for i, e := range w.Events {
				types[i] = notification.EventType(e)
			}
			ep.Filter = notification.FilterByType(types...)
		}
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}

	return webhook.NewWebhookNotifier(cfg)
}

// Observability builds the tracing provider and the metrics recorder.
func (b *Builder) Observability(ctx context.Context, version string) (*observability.Provider, telemetry.Metrics, error) {
	tc := b.config.Telemetry

	opts := []observability.Option{
		observability.WithServiceName(tc.ServiceName),
		observability.WithServiceVersion(version),
		observability.WithGlobal(),
	}
	if tc.SampleRate > 0 {
		opts = append(opts, observability.WithSampleRate(tc.SampleRate))
	}
	switch strings.ToLower(tc.Tracing) {
	case "stdout":
		opts = append(opts, observability.WithStdoutTracing(nil))
	case "otlp":
		opts = append(opts, observability.WithOTLPTracing(tc.Endpoint, true))
	}
	if tc.Metrics {
		opts = append(opts, observability.WithMetrics())
	}

	provider, err := observability.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrBuildFailed, err)
	}

	if !tc.Metrics {
		return provider, telemetry.NoopMetricsProvider{}, nil
	}
	mc := telemetry.DefaultMetricsConfig()
	mc.MeterVersion = version
	mc.MeterProvider = provider.MeterProvider()
	return provider, telemetry.NewMetricsProvider(mc), nil
}

type nopCloser struct {
	*memory.RunStore
}

func (nopCloser) Close() error { return nil }

// badgerLogger routes badger's internal logging through bolt.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Add(logging.Component("badger")).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Add(logging.Component("badger")).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Add(logging.Component("badger")).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Trace().Add(logging.Component("badger")).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
