package resilience

import (
	"testing"
	"time"
)

func TestOptions(t *testing.T) {
	config := DefaultExecutorConfig()
	called := false

	opts := []Option{
		WithCircuitBreakerThreshold(7),
		WithCircuitBreakerTimeout(time.Minute),
		WithRetryAttempts(4),
		WithRetryDelay(50 * time.Millisecond),
		WithAskTimeout(3 * time.Second),
		WithCircuitObserver(func(bool) { called = true }),
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.CircuitBreakerThreshold != 7 {
		t.Errorf("CircuitBreakerThreshold = %d, want 7", config.CircuitBreakerThreshold)
	}
	if config.CircuitBreakerTimeout != time.Minute {
		t.Errorf("CircuitBreakerTimeout = %v, want 1m", config.CircuitBreakerTimeout)
	}
	if config.RetryMaxAttempts != 4 {
		t.Errorf("RetryMaxAttempts = %d, want 4", config.RetryMaxAttempts)
	}
	if config.RetryInitialDelay != 50*time.Millisecond {
		t.Errorf("RetryInitialDelay = %v", config.RetryInitialDelay)
	}
	if config.AskTimeout != 3*time.Second {
		t.Errorf("AskTimeout = %v", config.AskTimeout)
	}
	config.OnCircuitChange(true)
	if !called {
		t.Error("OnCircuitChange not set")
	}
}
