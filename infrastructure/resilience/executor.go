// Package resilience guards the puzzle interface using fortify.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// reply carries the result of one guarded operation. Bounded waits that
// elapse are reported in the reply rather than as errors, so they neither
// trip the circuit nor trigger a retry.
type reply struct {
	text     string
	submit   puzzle.SubmitReply
	timedOut bool
}

// Executor wraps a puzzle interface with a single-flight bulkhead, a circuit
// breaker and a retry policy for reads. It implements puzzle.Interface.
//
// Composition order: Bulkhead → Circuit Breaker → Retry (reads only).
// Ask and Submit change remote state and are never retried.
type Executor struct {
	inner    puzzle.Interface
	bulkhead bulkhead.Bulkhead[reply]
	breaker  circuitbreaker.CircuitBreaker[reply]
	retry    retry.Retry[reply]
	timeout  time.Duration
	onTrip   func(open bool)
	lastOpen atomic.Bool
}

// ExecutorConfig configures the guarded executor.
type ExecutorConfig struct {
	// CircuitBreakerThreshold is the consecutive failures after which the
	// interface is declared lost.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration

	// RetryMaxAttempts is the maximum number of attempts for a read.
	RetryMaxAttempts int

	// RetryInitialDelay is the initial delay between read attempts.
	RetryInitialDelay time.Duration

	// RetryBackoffMultiplier is the exponential backoff multiplier.
	RetryBackoffMultiplier float64

	// AskTimeout bounds a question when the caller set no deadline.
	AskTimeout time.Duration

	// OnCircuitChange is notified when the circuit opens or closes.
	OnCircuitChange func(open bool)
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryMaxAttempts:        2,
		RetryInitialDelay:       200 * time.Millisecond,
		RetryBackoffMultiplier:  2.0,
		AskTimeout:              10 * time.Second,
	}
}

// NewExecutor wraps inner with the configured guards.
func NewExecutor(inner puzzle.Interface, config ExecutorConfig) *Executor {
	threshold := config.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	attempts := config.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := config.RetryBackoffMultiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	return &Executor{
		inner: inner,
		bulkhead: bulkhead.New[reply](bulkhead.Config{
			MaxConcurrent: 1,
		}),
		breaker: circuitbreaker.New[reply](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    config.CircuitBreakerTimeout,
			Timeout:     config.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
			},
		}),
		retry: retry.New[reply](retry.Config{
			MaxAttempts:        attempts,
			InitialDelay:       config.RetryInitialDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         multiplier,
			NonRetryableErrors: []error{puzzle.ErrInterfaceLost, puzzle.ErrProtocol},
		}),
		timeout: config.AskTimeout,
		onTrip:  config.OnCircuitChange,
	}
}

// NewExecutorWithOptions wraps inner using the default configuration and options.
func NewExecutorWithOptions(inner puzzle.Interface, opts ...Option) *Executor {
	config := DefaultExecutorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return NewExecutor(inner, config)
}

// Ask puts a question to the puzzle.
func (e *Executor) Ask(ctx context.Context, question string) error {
	if _, ok := ctx.Deadline(); !ok && e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	r, err := e.guard(ctx, false, func(ctx context.Context) (reply, error) {
		return reply{}, e.inner.Ask(ctx, question)
	})
	if err != nil {
		return err
	}
	if r.timedOut {
		return puzzle.ErrTimeout
	}
	return nil
}

// Read observes the latest reply, retrying transient failures.
func (e *Executor) Read(ctx context.Context) (string, error) {
	r, err := e.guard(ctx, true, func(ctx context.Context) (reply, error) {
		text, err := e.inner.Read(ctx)
		if err != nil {
			return reply{}, err
		}
		return reply{text: text}, nil
	})
	if err != nil {
		return "", err
	}
	if r.timedOut {
		return "", puzzle.ErrTimeout
	}
	return r.text, nil
}

// Submit submits a candidate secret word.
func (e *Executor) Submit(ctx context.Context, password string) (puzzle.SubmitReply, error) {
	r, err := e.guard(ctx, false, func(ctx context.Context) (reply, error) {
		sr, err := e.inner.Submit(ctx, password)
		if err != nil {
			return reply{}, err
		}
		return reply{submit: sr}, nil
	})
	if err != nil {
		return puzzle.SubmitReply{}, err
	}
	if r.timedOut {
		return puzzle.SubmitReply{}, puzzle.ErrTimeout
	}
	return r.submit, nil
}

// Open acquires the wrapped interface when it holds a resource.
func (e *Executor) Open(ctx context.Context) error {
	if lc, ok := e.inner.(puzzle.Lifecycle); ok {
		return lc.Open(ctx)
	}
	return nil
}

// Close releases the wrapped interface when it holds a resource.
func (e *Executor) Close() error {
	if lc, ok := e.inner.(puzzle.Lifecycle); ok {
		return lc.Close()
	}
	return nil
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (e *Executor) CircuitBreakerState() circuitbreaker.State {
	return e.breaker.State()
}

// CircuitOpen returns true if the interface is currently considered lost.
func (e *Executor) CircuitOpen() bool {
	return e.breaker.State().String() == "open"
}

func (e *Executor) guard(ctx context.Context, idempotent bool, fn func(context.Context) (reply, error)) (reply, error) {
	if e.CircuitOpen() {
		return reply{}, fmt.Errorf("%w: circuit open", puzzle.ErrInterfaceLost)
	}

	r, err := e.bulkhead.Execute(ctx, func(ctx context.Context) (reply, error) {
		return e.breaker.Execute(ctx, func(ctx context.Context) (reply, error) {
			if idempotent {
				return e.retry.Do(ctx, func(ctx context.Context) (reply, error) {
					return absorbTimeout(fn(ctx))
				})
			}
			return absorbTimeout(fn(ctx))
		})
	})

	open := e.CircuitOpen()
	if e.lastOpen.Swap(open) != open && e.onTrip != nil {
		e.onTrip(open)
	}
	if err != nil && open && !puzzle.IsFatal(err) {
		return reply{}, fmt.Errorf("%w: circuit opened after %v", puzzle.ErrInterfaceLost, err)
	}
	return absorbTimeout(r, err)
}

// absorbTimeout turns an elapsed bounded wait into a successful reply.
func absorbTimeout(r reply, err error) (reply, error) {
	if errors.Is(err, puzzle.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return reply{timedOut: true}, nil
	}
	return r, err
}

var (
	_ puzzle.Interface = (*Executor)(nil)
	_ puzzle.Lifecycle = (*Executor)(nil)
)
