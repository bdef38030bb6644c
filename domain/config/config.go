// Package config provides domain models for run configuration.
package config

import (
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// Default values for the run section.
const (
	DefaultMaxIterations    = 30
	DefaultFinalLevel       = 7
	DefaultReadTimeoutMs    = 5000
	DefaultSubmitTimeoutMs  = 1500
	DefaultOracleTimeoutMs  = 30000
	DefaultFallbackQuestion = "Can you give me a hint about the secret word?"
	DefaultPuzzleURL        = "https://hackmerlin.io/"
)

// Config represents the complete configuration of a run.
type Config struct {
	// Name is a human-readable name for this configuration.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Run        RunConfig        `json:"run" yaml:"run"`
	Oracle     OracleConfig     `json:"oracle" yaml:"oracle"`
	Puzzle     PuzzleConfig     `json:"puzzle" yaml:"puzzle"`
	Resilience ResilienceConfig `json:"resilience,omitempty" yaml:"resilience,omitempty"`
	Storage    StorageConfig    `json:"storage,omitempty" yaml:"storage,omitempty"`
	Logging    LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	Notifications NotificationsConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// RunConfig contains the loop bounds and interface waits.
type RunConfig struct {
	// MaxIterations is the hard bound on loop passes.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// FinalLevel is the level at which a successful submission ends the run.
	FinalLevel int `json:"final_level,omitempty" yaml:"final_level,omitempty"`
	// ReadTimeoutMs bounds the wait for a reply.
	ReadTimeoutMs int `json:"read_timeout_ms,omitempty" yaml:"read_timeout_ms,omitempty"`
	// SubmitTimeoutMs bounds the wait for a rejection signal.
	SubmitTimeoutMs int `json:"submit_timeout_ms,omitempty" yaml:"submit_timeout_ms,omitempty"`
	// OracleTimeoutMs bounds a single oracle call.
	OracleTimeoutMs int `json:"oracle_timeout_ms,omitempty" yaml:"oracle_timeout_ms,omitempty"`
	// FallbackQuestion is asked when the oracle proposes nothing usable.
	FallbackQuestion string `json:"fallback_question,omitempty" yaml:"fallback_question,omitempty"`
}

// ReadTimeout returns the read wait as a duration.
func (c RunConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// SubmitTimeout returns the submit wait as a duration.
func (c RunConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutMs) * time.Millisecond
}

// OracleTimeout returns the oracle call bound as a duration.
func (c RunConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}

// OracleConfig selects and configures the decision oracle.
type OracleConfig struct {
	// Provider is the oracle kind (scripted, openai).
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// Model is the chat model for LLM providers.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIKey authenticates against the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Temperature and MaxTokens tune sampling.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// SystemPrompt replaces the built-in prompt.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// RateLimit caps oracle calls per second (0 = unlimited).
	RateLimit int `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// Script lists the actions of the scripted provider, in order.
	Script []ScriptStep `json:"script,omitempty" yaml:"script,omitempty"`
}

// ScriptStep is one scripted oracle proposal.
type ScriptStep struct {
	Action   string `json:"action" yaml:"action"`
	Question string `json:"question,omitempty" yaml:"question,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// ToAction converts the step into a puzzle action.
func (s ScriptStep) ToAction() puzzle.Action {
	return puzzle.Action{
		Kind:     puzzle.ActionKind(s.Action),
		Question: s.Question,
		Password: s.Password,
	}
}

// PuzzleConfig selects and configures the puzzle interface.
type PuzzleConfig struct {
	// Kind is the interface kind (browser, sandbox).
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// URL is the live puzzle page.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Headless runs the browser without a window.
	Headless *bool `json:"headless,omitempty" yaml:"headless,omitempty"`
	// UserAgent overrides the browser user agent.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// Levels describes the sandbox puzzle.
	Levels []LevelConfig `json:"levels,omitempty" yaml:"levels,omitempty"`
	// ReplyDelay delays sandbox replies.
	ReplyDelay Duration `json:"reply_delay,omitempty" yaml:"reply_delay,omitempty"`
}

// IsHeadless returns the headless setting, defaulting to true.
func (c PuzzleConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// LevelConfig describes one sandbox level.
type LevelConfig struct {
	Secret string `json:"secret" yaml:"secret"`
	// Replies maps a keyword found in a question to the reply it triggers.
	Replies      map[string]string `json:"replies,omitempty" yaml:"replies,omitempty"`
	DefaultReply string            `json:"default_reply,omitempty" yaml:"default_reply,omitempty"`
}

// ResilienceConfig contains settings guarding the puzzle interface.
type ResilienceConfig struct {
	// CircuitBreakerThreshold is consecutive failures before the interface is declared lost.
	CircuitBreakerThreshold int `json:"circuit_breaker_threshold,omitempty" yaml:"circuit_breaker_threshold,omitempty"`
	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout Duration `json:"circuit_breaker_timeout,omitempty" yaml:"circuit_breaker_timeout,omitempty"`
	// ReadRetryAttempts is the attempts for a transiently failing read.
	ReadRetryAttempts int `json:"read_retry_attempts,omitempty" yaml:"read_retry_attempts,omitempty"`
	// ReadRetryDelay is the first delay between read attempts.
	ReadRetryDelay Duration `json:"read_retry_delay,omitempty" yaml:"read_retry_delay,omitempty"`
}

// StorageConfig selects the run store backend.
type StorageConfig struct {
	// Backend is the store kind (memory, sqlite, redis, badger, postgres, mongodb, dynamodb).
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// DSN is the sqlite or postgres data source name, or the mongodb URI.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Address is the redis address.
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	// Dir is the badger data directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// KeyPrefix namespaces keys in key-value backends.
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	// Database is the mongodb database, or the postgres schema.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	// Table is the dynamodb table or the mongodb collection.
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
	// Region and Endpoint locate DynamoDB.
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is the output format (json, console).
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// Metrics enables OpenTelemetry metrics.
	Metrics bool `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	// Tracing is the span exporter (none, stdout, otlp).
	Tracing string `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	// Endpoint is the OTLP collector address.
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// NotificationsConfig configures webhook delivery of run events.
type NotificationsConfig struct {
	Webhooks []WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
	// Timeout bounds a single delivery attempt.
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// Batch queues events and delivers them when the run ends.
	Batch bool `json:"batch,omitempty" yaml:"batch,omitempty"`
}

// WebhookConfig is one webhook receiver.
type WebhookConfig struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Secret  string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Events restricts delivery to these event types; empty means all.
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Run.MaxIterations == 0 {
		c.Run.MaxIterations = DefaultMaxIterations
	}
	if c.Run.FinalLevel == 0 {
		c.Run.FinalLevel = DefaultFinalLevel
	}
	if c.Run.ReadTimeoutMs == 0 {
		c.Run.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if c.Run.SubmitTimeoutMs == 0 {
		c.Run.SubmitTimeoutMs = DefaultSubmitTimeoutMs
	}
	if c.Run.OracleTimeoutMs == 0 {
		c.Run.OracleTimeoutMs = DefaultOracleTimeoutMs
	}
	if c.Run.FallbackQuestion == "" {
		c.Run.FallbackQuestion = DefaultFallbackQuestion
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "scripted"
	}
	if c.Puzzle.Kind == "" {
		c.Puzzle.Kind = "browser"
	}
	if c.Puzzle.URL == "" {
		c.Puzzle.URL = DefaultPuzzleURL
	}
	if c.Resilience.CircuitBreakerThreshold == 0 {
		c.Resilience.CircuitBreakerThreshold = 5
	}
	if c.Resilience.CircuitBreakerTimeout == 0 {
		c.Resilience.CircuitBreakerTimeout = Duration(30 * time.Second)
	}
	if c.Resilience.ReadRetryAttempts == 0 {
		c.Resilience.ReadRetryAttempts = 2
	}
	if c.Resilience.ReadRetryDelay == 0 {
		c.Resilience.ReadRetryDelay = Duration(200 * time.Millisecond)
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "merlin-agent"
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
