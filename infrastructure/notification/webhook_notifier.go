package notification

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// WebhookNotifierConfig configures the webhook notifier.
type WebhookNotifierConfig struct {
	Endpoints []*notification.Endpoint
	// EnableBatching queues events and delivers them together.
	EnableBatching bool
	BatcherConfig  BatcherConfig
	SenderConfig   SenderConfig
}

// DefaultWebhookNotifierConfig returns sensible defaults.
func DefaultWebhookNotifierConfig() WebhookNotifierConfig {
	return WebhookNotifierConfig{
		BatcherConfig: DefaultBatcherConfig(),
		SenderConfig:  DefaultSenderConfig(),
	}
}

// WebhookNotifier sends run events to configured webhook endpoints.
type WebhookNotifier struct {
	endpoints []*notification.Endpoint
	sender    *Sender
	batcher   *Batcher

	mu     sync.RWMutex
	closed bool
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookNotifierConfig) *WebhookNotifier {
	w := &WebhookNotifier{
		endpoints: config.Endpoints,
		sender:    NewSender(config.SenderConfig),
	}

	if config.EnableBatching {
		bc := config.BatcherConfig
		bc.OnBatch = w.deliver
		w.batcher = NewBatcher(bc)
	}

	return w
}

// Notify sends an event to every endpoint that accepts it.
func (w *WebhookNotifier) Notify(ctx context.Context, event *notification.Event) error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return notification.ErrNotifierClosed
	}

	if w.batcher != nil {
		return w.batcher.Add(ctx, event)
	}
	return w.deliver(ctx, []*notification.Event{event})
}

// Close flushes pending events and closes the notifier.
func (w *WebhookNotifier) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if w.batcher != nil {
		return w.batcher.Close(context.Background())
	}
	return nil
}

// Endpoints returns the configured endpoints.
func (w *WebhookNotifier) Endpoints() []*notification.Endpoint {
	return w.endpoints
}

// deliver fans events out to the endpoints concurrently and returns the first error.
func (w *WebhookNotifier) deliver(ctx context.Context, events []*notification.Event) error {
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	for _, endpoint := range w.endpoints {
		var accepted []*notification.Event
		for _, event := range events {
			if endpoint.Accepts(event) {
				accepted = append(accepted, event)
			}
		}
		if len(accepted) == 0 {
			continue
		}

		wg.Add(1)
		go func(ep *notification.Endpoint, evts []*notification.Event) {
			defer wg.Done()

			if err := w.sender.Send(ctx, ep, evts); err != nil {
				logging.Warn().
					Add(logging.Component("webhook")).
					Add(logging.Str("endpoint", ep.Name)).
					Add(logging.Int("event_count", len(evts))).
					Add(logging.ErrorField(err)).
					Msg("webhook delivery failed")

				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}

			logging.Debug().
				Add(logging.Component("webhook")).
				Add(logging.Str("endpoint", ep.Name)).
				Add(logging.Int("event_count", len(evts))).
				Msg("webhook delivered")
		}(endpoint, accepted)
	}

	wg.Wait()
	return firstErr
}

var _ notification.Notifier = (*WebhookNotifier)(nil)
