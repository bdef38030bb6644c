package notification

import (
	"context"
)

// Notifier delivers notification events.
type Notifier interface {
	// Notify sends a notification event.
	Notify(ctx context.Context, event *Event) error

	// Close flushes pending events and releases resources.
	Close() error
}

// EventFilter reports whether an event should be sent.
type EventFilter func(event *Event) bool

// FilterByType returns a filter that only allows specified event types.
func FilterByType(types ...EventType) EventFilter {
	typeSet := make(map[EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event *Event) bool {
		return typeSet[event.Type]
	}
}

// Endpoint represents a webhook endpoint configuration.
type Endpoint struct {
	// Name is an optional friendly name for the endpoint.
	Name string `json:"name,omitempty"`
	// URL is the webhook endpoint URL.
	URL string `json:"url"`
	// Secret is the shared secret for HMAC signing.
	Secret string `json:"secret,omitempty"`
	// Headers are additional HTTP headers to include.
	Headers map[string]string `json:"headers,omitempty"`
	// Filter restricts the events sent to this endpoint.
	Filter EventFilter `json:"-"`
	// Enabled indicates if this endpoint is active.
	Enabled bool `json:"enabled"`
}

// Accepts reports whether the endpoint wants the event.
func (e *Endpoint) Accepts(event *Event) bool {
	return e.Enabled && (e.Filter == nil || e.Filter(event))
}
