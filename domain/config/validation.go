package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the JSON path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates run configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) ValidationErrors {
	v.errors = nil

	v.validateRun(config)
	v.validateOracle(config)
	v.validatePuzzle(config)
	v.validateResilience(config)
	v.validateStorage(config)
	v.validateLogging(config)
	v.validateTelemetry(config)
	v.validateNotifications(config)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) oneOf(path, value string, allowed ...string) {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	v.addError(path, fmt.Sprintf("invalid value %q (want one of %s)", value, strings.Join(allowed, ", ")))
}

func (v *Validator) validateRun(config *Config) {
	r := config.Run
	if r.FinalLevel < 1 {
		v.addError("run.final_level", "final_level must be at least 1")
	}
	if r.MaxIterations < 1 {
		v.addError("run.max_iterations", "max_iterations must be at least 1")
	}
	if r.ReadTimeoutMs <= 0 {
		v.addError("run.read_timeout_ms", "read_timeout_ms must be positive")
	}
	if r.SubmitTimeoutMs <= 0 {
		v.addError("run.submit_timeout_ms", "submit_timeout_ms must be positive")
	}
	if r.OracleTimeoutMs < 0 {
		v.addError("run.oracle_timeout_ms", "oracle_timeout_ms must be non-negative")
	}
	if strings.TrimSpace(r.FallbackQuestion) == "" {
		v.addError("run.fallback_question", "fallback_question is required")
	}
}

func (v *Validator) validateOracle(config *Config) {
	o := config.Oracle
	v.oneOf("oracle.provider", o.Provider, "scripted", "openai")

	switch strings.ToLower(o.Provider) {
	case "openai":
		if o.Model == "" {
			v.addError("oracle.model", "model is required for openai provider")
		}
		if o.Temperature < 0 || o.Temperature > 2 {
			v.addError("oracle.temperature", "temperature must be between 0 and 2")
		}
	case "scripted":
		for i, step := range o.Script {
			path := fmt.Sprintf("oracle.script[%d]", i)
			if err := step.ToAction().Validate(); err != nil {
				v.addError(path, err.Error())
			}
		}
	}

	if o.MaxTokens < 0 {
		v.addError("oracle.max_tokens", "max_tokens must be non-negative")
	}
	if o.RateLimit < 0 {
		v.addError("oracle.rate_limit", "rate_limit must be non-negative")
	}
}

func (v *Validator) validatePuzzle(config *Config) {
	p := config.Puzzle
	v.oneOf("puzzle.kind", p.Kind, "browser", "sandbox")

	switch strings.ToLower(p.Kind) {
	case "browser":
		if p.URL == "" {
			v.addError("puzzle.url", "url is required for browser puzzle")
		}
	case "sandbox":
		if len(p.Levels) < config.Run.FinalLevel {
			v.addError("puzzle.levels", fmt.Sprintf("sandbox defines %d levels, final_level is %d", len(p.Levels), config.Run.FinalLevel))
		}
		for i, level := range p.Levels {
			if strings.TrimSpace(level.Secret) == "" {
				v.addError(fmt.Sprintf("puzzle.levels[%d].secret", i), "secret is required")
			}
		}
	}

	if p.ReplyDelay < 0 {
		v.addError("puzzle.reply_delay", "reply_delay must be non-negative")
	}
}

func (v *Validator) validateResilience(config *Config) {
	r := config.Resilience
	if r.CircuitBreakerThreshold < 0 {
		v.addError("resilience.circuit_breaker_threshold", "circuit_breaker_threshold must be non-negative")
	}
	if r.CircuitBreakerTimeout < 0 {
		v.addError("resilience.circuit_breaker_timeout", "circuit_breaker_timeout must be non-negative")
	}
	if r.ReadRetryAttempts < 0 {
		v.addError("resilience.read_retry_attempts", "read_retry_attempts must be non-negative")
	}
	if r.ReadRetryDelay < 0 {
		v.addError("resilience.read_retry_delay", "read_retry_delay must be non-negative")
	}
}

func (v *Validator) validateStorage(config *Config) {
	s := config.Storage
	v.oneOf("storage.backend", s.Backend, "memory", "sqlite", "redis", "badger", "postgres", "mongodb", "dynamodb")

	switch strings.ToLower(s.Backend) {
	case "sqlite", "postgres", "mongodb":
		if s.DSN == "" {
			v.addError("storage.dsn", fmt.Sprintf("dsn is required for %s backend", strings.ToLower(s.Backend)))
		}
	case "redis":
		if s.Address == "" {
			v.addError("storage.address", "address is required for redis backend")
		}
	case "badger":
		if s.Dir == "" {
			v.addError("storage.dir", "dir is required for badger backend")
		}
	case "dynamodb":
		if s.Region == "" && s.Endpoint == "" {
			v.addError("storage.region", "region or endpoint is required for dynamodb backend")
		}
	}
}

func (v *Validator) validateLogging(config *Config) {
	v.oneOf("logging.level", config.Logging.Level, "trace", "debug", "info", "warn", "error")
	v.oneOf("logging.format", config.Logging.Format, "json", "console")
}

func (v *Validator) validateTelemetry(config *Config) {
	t := config.Telemetry
	v.oneOf("telemetry.tracing", t.Tracing, "none", "stdout", "otlp")
	if strings.EqualFold(t.Tracing, "otlp") && t.Endpoint == "" {
		v.addError("telemetry.endpoint", "endpoint is required for otlp tracing")
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		v.addError("telemetry.sample_rate", "sample_rate must be between 0 and 1")
	}
}

func (v *Validator) validateNotifications(config *Config) {
	n := config.Notifications
	if n.Timeout < 0 {
		v.addError("notifications.timeout", "timeout must not be negative")
	}
	if n.MaxRetries < 0 {
		v.addError("notifications.max_retries", "max_retries must not be negative")
	}

	for i, w := range n.Webhooks {
		path := fmt.Sprintf("notifications.webhooks[%d]", i)
		u, err := url.Parse(w.URL)
		if w.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(path+".url", "url must be an absolute http or https URL")
		}
		for j, e := range w.Events {
			if !notification.EventType(e).IsValid() {
				v.addError(fmt.Sprintf("%s.events[%d]", path, j), fmt.Sprintf("unknown event type %q", e))
			}
		}
	}
}
