package batch

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage/memory"
)

func makeEvent(i int) domain.AnalyticsEvent {
	return domain.AnalyticsEvent{
		ID:        "evt-" + strconv.Itoa(i),
		UserID:    "u1",
		Name:      "screen_view",
		Timestamp: time.Now(),
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBatcher_SizeTriggeredFlush(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 10, FlushEvery: time.Hour})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 10; i++ {
		b.Add(makeEvent(i))
	}

	waitFor(t, func() bool { return len(store.Events()) == 10 },
		"expected 10 events written after size-triggered flush")

	if got := b.Pending(); got != 0 {
		t.Errorf("Pending = %d after flush, want 0", got)
	}
}

func TestBatcher_BelowThresholdStaysBuffered(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 10, FlushEvery: time.Hour})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 9; i++ {
		b.Add(makeEvent(i))
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(store.Events()); got != 0 {
		t.Errorf("%d events written below batch size, want 0", got)
	}
	if got := b.Pending(); got != 9 {
		t.Errorf("Pending = %d, want 9", got)
	}
}

func TestBatcher_TimeTriggeredFlush(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 100, FlushEvery: 50 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	b.Add(makeEvent(0))
	b.Add(makeEvent(1))

	waitFor(t, func() bool { return len(store.Events()) == 2 },
		"expected time-triggered flush of 2 events")
}

func TestBatcher_TickDebouncedAfterSizeFlush(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 10, FlushEvery: 300 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	// Land the size-triggered flush mid-interval so the next tick
	// arrives well inside the debounce window.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 10; i++ {
		b.Add(makeEvent(i))
	}
	waitFor(t, func() bool { return len(store.Events()) == 10 },
		"expected size-triggered flush of 10 events")

	b.Add(makeEvent(10))

	// The next tick fires roughly half an interval after the size flush
	// and must leave the fresh event buffered.
	time.Sleep(250 * time.Millisecond)
	if got := len(store.Events()); got != 10 {
		t.Fatalf("%d events after debounced tick, want 10", got)
	}
	if got := b.Pending(); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}

	// Once a full interval has passed since the size flush, a tick
	// writes the remainder.
	waitFor(t, func() bool { return len(store.Events()) == 11 },
		"expected deferred time flush of the remaining event")
}

func TestBatcher_FailedFlushDropsBatch(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 5, FlushEvery: time.Hour})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	store.SetDown(true)
	for i := 0; i < 5; i++ {
		b.Add(makeEvent(i))
	}

	waitFor(t, func() bool { return b.Dropped() == 5 },
		"expected 5 dropped events after failed flush")

	// At-most-once: the failed batch must not resurface on recovery
	store.SetDown(false)
	for i := 5; i < 10; i++ {
		b.Add(makeEvent(i))
	}

	waitFor(t, func() bool { return len(store.Events()) == 5 },
		"expected only the second batch after recovery")
	for _, e := range store.Events() {
		if e.ID < "evt-5" {
			t.Errorf("dropped event %s resurfaced after recovery", e.ID)
		}
	}
}

func TestBatcher_StopFlushesPending(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 100, FlushEvery: time.Hour})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.Add(makeEvent(0))
	b.Add(makeEvent(1))
	b.Add(makeEvent(2))

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(store.Events()); got != 3 {
		t.Errorf("%d events written after Stop, want 3", got)
	}
}

func TestBatcher_StopWithoutStart(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 100, FlushEvery: time.Hour})

	b.Add(makeEvent(0))
	b.Add(makeEvent(1))

	done := make(chan error, 1)
	go func() { done <- b.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a batcher that was never started")
	}

	if got := len(store.Events()); got != 2 {
		t.Errorf("%d events written after Stop, want 2", got)
	}
}

func TestBatcher_SyncFlush(t *testing.T) {
	store := memory.New()
	b := New(store, Config{BatchSize: 100, FlushEvery: time.Hour})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	b.Add(makeEvent(0))
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := len(store.Events()); got != 1 {
		t.Errorf("%d events after sync flush, want 1", got)
	}

	// Flushing an empty buffer is a no-op
	if err := b.Flush(); err != nil {
		t.Fatalf("empty Flush failed: %v", err)
	}
}
