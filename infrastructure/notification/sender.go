// Package notification delivers run events to webhook endpoints.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
)

// SenderConfig configures the HTTP sender.
type SenderConfig struct {
	// Timeout is the per-request timeout.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// CircuitBreakerThreshold is consecutive failures before an endpoint is skipped.
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	UserAgent               string
}

// DefaultSenderConfig returns sensible default configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Timeout:                 5 * time.Second,
		MaxRetries:              3,
		RetryDelay:              500 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		UserAgent:               "merlin-agent-webhook/1.0",
	}
}

// Sender handles HTTP delivery of webhook notifications. Each endpoint gets
// its own circuit breaker so a dead receiver does not slow down the others.
type Sender struct {
	config   SenderConfig
	client   *http.Client
	retrier  retry.Retry[struct{}]
	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker[struct{}]
}

// NewSender creates a new HTTP sender.
func NewSender(config SenderConfig) *Sender {
	defaults := DefaultSenderConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = defaults.CircuitBreakerThreshold
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = defaults.CircuitBreakerTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}

	return &Sender{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   config.MaxRetries,
			InitialDelay:  config.RetryDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			// 4xx responses are final
			NonRetryableErrors: []error{notification.ErrEndpointRejected},
		}),
		breakers: make(map[string]circuitbreaker.CircuitBreaker[struct{}]),
	}
}

// Send posts events to the endpoint as a JSON array.
func (s *Sender) Send(ctx context.Context, endpoint *notification.Endpoint, events []*notification.Event) error {
	if endpoint == nil || endpoint.URL == "" {
		return notification.ErrInvalidEndpoint
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to serialize events: %w", err)
	}

	breaker := s.breaker(endpoint.URL)
	_, err = breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return s.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.post(ctx, endpoint, payload)
		})
	})
	return err
}

func (s *Sender) post(ctx context.Context, endpoint *notification.Endpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", notification.ErrInvalidEndpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}
	if endpoint.Secret != "" {
		for key, value := range signedHeaders(payload, endpoint.Secret, time.Now()) {
			req.Header.Set(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", notification.ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", notification.ErrEndpointUnavailable, resp.StatusCode, body)
	default:
		return fmt.Errorf("%w: status %d: %s", notification.ErrEndpointRejected, resp.StatusCode, body)
	}
}

func (s *Sender) breaker(url string) circuitbreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[url]; ok {
		return b
	}

	threshold := s.config.CircuitBreakerThreshold
	b := circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    s.config.CircuitBreakerTimeout,
		Timeout:     s.config.CircuitBreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
		},
	})
	s.breakers[url] = b
	return b
}

// BreakerState returns the circuit breaker state for an endpoint.
func (s *Sender) BreakerState(url string) string {
	s.mu.Lock()
	b, ok := s.breakers[url]
	s.mu.Unlock()

	if !ok {
		return "unknown"
	}
	return b.State().String()
}
