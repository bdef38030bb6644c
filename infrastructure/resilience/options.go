package resilience

import "time"

// Option configures the executor.
type Option func(*ExecutorConfig)

// WithCircuitBreakerThreshold sets the failure threshold for circuit breaker.
func WithCircuitBreakerThreshold(n int) Option {
	return func(c *ExecutorConfig) {
		c.CircuitBreakerThreshold = n
	}
}

// WithCircuitBreakerTimeout sets the circuit breaker open duration.
func WithCircuitBreakerTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.CircuitBreakerTimeout = d
	}
}

// WithRetryAttempts sets the maximum read attempts.
func WithRetryAttempts(n int) Option {
	return func(c *ExecutorConfig) {
		c.RetryMaxAttempts = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.RetryInitialDelay = d
	}
}

// WithAskTimeout bounds questions asked without a deadline.
func WithAskTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.AskTimeout = d
	}
}

// WithCircuitObserver registers a callback for circuit state changes.
func WithCircuitObserver(fn func(open bool)) Option {
	return func(c *ExecutorConfig) {
		c.OnCircuitChange = fn
	}
}
