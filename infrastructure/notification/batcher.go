package notification

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/notification"
)

// BatcherConfig configures the event batcher.
type BatcherConfig struct {
	MaxBatchSize int
	// MaxWait is how long the first queued event may wait for company.
	MaxWait time.Duration
	// OnBatch delivers a full or expired batch.
	OnBatch func(ctx context.Context, events []*notification.Event) error
}

// DefaultBatcherConfig returns a sensible default configuration.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxBatchSize: 20,
		MaxWait:      2 * time.Second,
	}
}

// Batcher accumulates events and flushes them in batches.
type Batcher struct {
	config BatcherConfig
	mu     sync.Mutex
	events []*notification.Event
	timer  *time.Timer
	closed bool
}

// NewBatcher creates a new event batcher.
func NewBatcher(config BatcherConfig) *Batcher {
	defaults := DefaultBatcherConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaults.MaxWait
	}
	return &Batcher{config: config}
}

// Add queues an event, flushing when the batch is full.
func (b *Batcher) Add(ctx context.Context, event *notification.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return notification.ErrNotifierClosed
	}

	b.events = append(b.events, event)
	if len(b.events) >= b.config.MaxBatchSize {
		return b.flushLocked(ctx)
	}
	if b.timer == nil {
		flushCtx := context.WithoutCancel(ctx)
		b.timer = time.AfterFunc(b.config.MaxWait, func() {
			_ = b.Flush(flushCtx)
		})
	}
	return nil
}

// Flush sends any pending events immediately.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *Batcher) flushLocked(ctx context.Context) error {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.events) == 0 {
		return nil
	}

	events := b.events
	b.events = nil

	if b.config.OnBatch != nil {
		return b.config.OnBatch(ctx, events)
	}
	return nil
}

// Close flushes remaining events and rejects further ones.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.flushLocked(ctx)
}

// PendingCount returns the number of events waiting to be flushed.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
