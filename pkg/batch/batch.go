// Package batch decouples high-frequency event producers from the durable
// store's write path. Delivery is at-most-once: a failed flush drops its
// batch rather than blocking or duplicating, which is the right tradeoff
// for analytics telemetry.
package batch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// Config holds configuration for the batcher
type Config struct {
	BatchSize  int
	FlushEvery time.Duration
}

// DefaultConfig returns the documented defaults (batch of 10, 5s interval).
func DefaultConfig() Config {
	return Config{
		BatchSize:  config.BatchSize,
		FlushEvery: config.FlushInterval,
	}
}

// Batcher buffers analytics events and bulk-writes them to storage.
type Batcher struct {
	config Config
	store  storage.Store

	events    []domain.AnalyticsEvent
	lastFlush time.Time
	mu        sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // one flush at a time; prevents goroutine pileup
	dropped  atomic.Uint64
}

// New creates a new batcher writing to store.
func New(store storage.Store, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.BatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = config.FlushInterval
	}
	return &Batcher{
		config: cfg,
		store:  store,
		events: make([]domain.AnalyticsEvent, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}
}

// Start starts the background flush loop.
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add appends an event to the buffer. Non-blocking: a full buffer triggers
// an async flush, and flush failures never surface here.
func (b *Batcher) Add(event domain.AnalyticsEvent) {
	b.mu.Lock()
	b.events = append(b.events, event)
	shouldFlush := len(b.events) >= b.config.BatchSize
	b.mu.Unlock()

	// Flush if the batch is full AND no flush is already running.
	// CompareAndSwap ensures only one flush goroutine runs at a time.
	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		go func() {
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Flush synchronously writes all pending events. The error is also what the
// background path silently logs; exposed for shutdown and tests.
func (b *Batcher) Flush() error {
	events := b.take()
	if len(events) == 0 {
		return nil
	}
	return b.write(events)
}

// Stop stops the flush loop and performs a final flush of pending events.
// Calling Stop on a batcher that was never started only flushes the buffer.
func (b *Batcher) Stop() error {
	if b.cancel == nil {
		return b.Flush()
	}
	b.cancel()

	// Wait for flush loop to finish
	<-b.done

	return b.Flush()
}

// Dropped returns how many events have been discarded on failed flushes.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Pending returns the current buffer size.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// flushLoop flushes on a timer. The time-based flush is debounced: a tick
// only flushes when the buffer is non-empty and the previous flush (size-
// or time-triggered) is older than the interval.
func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			due := len(b.events) > 0 && time.Since(b.lastFlush) >= b.config.FlushEvery
			b.mu.Unlock()

			if due && b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush takes the buffer and writes it in the background.
func (b *Batcher) flush() {
	events := b.take()
	if len(events) == 0 {
		return
	}

	// Write in background to avoid blocking Add callers
	go func() {
		if err := b.write(events); err != nil {
			log.Printf("Event flush failed, dropping %d events: %v", len(events), err)
		}
	}()
}

// take atomically hands the buffer over to the caller. Subsequent Add calls
// start a fresh buffer, so a concurrent flush can never lose or duplicate
// events.
func (b *Batcher) take() []domain.AnalyticsEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}

	events := b.events
	b.events = make([]domain.AnalyticsEvent, 0, b.config.BatchSize)
	b.lastFlush = time.Now()
	return events
}

// write attempts one bulk insert. On failure the batch is dropped: no
// retry, no requeue.
func (b *Batcher) write(events []domain.AnalyticsEvent) error {
	// The shutdown flush runs after the batcher context is cancelled;
	// fall back to Background so pending events still get written.
	ctx := b.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, config.FlushTimeout)
	defer cancel()

	if err := b.store.WriteEvents(ctx, events); err != nil {
		b.dropped.Add(uint64(len(events)))
		return err
	}
	return nil
}
