// Package scheduler drives the periodic materialization of collective
// snapshots. A single Runner owns the timer, the run/error counters and
// the latest-snapshot cache entry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dorianinnovations/numina-collective/pkg/aggregate"
	"github.com/dorianinnovations/numina-collective/pkg/cache"
	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// snapshotCacheKey is where the latest materialized snapshot lives.
const snapshotCacheKey = "snapshot:latest"

// ErrNotRunning is returned by TriggerNow when the runner has not been
// started. This is a contract violation, not a runtime condition.
var ErrNotRunning = errors.New("scheduler is not running: call Start first")

// Status is the externally visible runner state.
type Status struct {
	IsRunning  bool          `json:"is_running"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	Interval   time.Duration `json:"interval"`
}

// Stats summarizes run outcomes for health checks.
type Stats struct {
	RunCount    int        `json:"run_count"`
	ErrorCount  int        `json:"error_count"`
	SuccessRate float64    `json:"success_rate"`
	LastRun     *time.Time `json:"last_run,omitempty"`
}

// Runner executes aggregation cycles on a fixed interval. One cycle checks
// the precondition gates (store connectivity, minimum consenting users,
// minimum recent activity) and, when satisfied, materializes a fresh
// snapshot into the cache.
type Runner struct {
	store  storage.Store
	engine *aggregate.Engine
	cache  *cache.Cache

	mu         sync.Mutex
	running    bool
	interval   time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	runCount   int
	errorCount int
	lastRun    time.Time

	// cycleRunning prevents overlapping cycles when a slow store query
	// outlasts the interval. An overlapping fire is skipped, not queued.
	cycleRunning atomic.Bool

	now func() time.Time
}

// New creates a runner with the default interval.
func New(store storage.Store, engine *aggregate.Engine, c *cache.Cache) *Runner {
	return &Runner{
		store:    store,
		engine:   engine,
		cache:    c,
		interval: config.SchedulerInterval,
		now:      time.Now,
	}
}

// NewWithClock creates a runner with an injected clock. Test use only.
func NewWithClock(store storage.Store, engine *aggregate.Engine, c *cache.Cache, now func() time.Time) *Runner {
	r := New(store, engine, c)
	r.now = now
	return r
}

// Start begins the scheduling loop: one cycle immediately, then one per
// interval. Calling Start on a running scheduler is a logged no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Println("Scheduler already running, ignoring Start")
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	interval := r.interval
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	log.Printf("Scheduler started (interval %v)", interval)

	go func() {
		defer close(doneCh)

		// First cycle runs immediately, not after the first interval.
		r.RunCycle(context.Background())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.RunCycle(context.Background())
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop cancels the timer. Counters and lastRun are preserved. Calling Stop
// on a stopped scheduler is a logged no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		log.Println("Scheduler not running, ignoring Stop")
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh
	log.Println("Scheduler stopped")
}

// TriggerNow runs one cycle outside the schedule. The runner must be
// started first.
func (r *Runner) TriggerNow(ctx context.Context) error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	r.RunCycle(ctx)
	return nil
}

// SetInterval changes the scheduling interval, given in minutes. Values
// under one minute are rejected. A running scheduler goes through a full
// stop/start cycle so the new interval takes effect; that also re-runs the
// immediate first cycle, which is intentional.
func (r *Runner) SetInterval(minutes float64) error {
	if minutes < 1 {
		return fmt.Errorf("interval must be at least 1 minute, got %v", minutes)
	}

	r.mu.Lock()
	r.interval = time.Duration(minutes * float64(time.Minute))
	running := r.running
	r.mu.Unlock()

	if running {
		r.Stop()
		r.Start()
	}
	return nil
}

// RunCycle executes one aggregation cycle. Gate skips change no counters;
// only a snapshot attempt moves runCount/errorCount, and lastRun always
// reflects the last successful cycle.
func (r *Runner) RunCycle(ctx context.Context) {
	if !r.cycleRunning.CompareAndSwap(false, true) {
		log.Println("Aggregation cycle already in progress, skipping")
		return
	}
	defer r.cycleRunning.Store(false)

	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	if err := r.store.Ping(ctx); err != nil {
		log.Printf("Skipping aggregation cycle: store unavailable: %v", err)
		return
	}

	insights := r.engine.RealTimeInsights(ctx)
	if !insights.Success {
		log.Printf("Skipping aggregation cycle: insights unavailable: %s", insights.Message)
		return
	}
	if insights.Metadata.TotalUsers < config.SchedulerMinUsers {
		log.Printf("Skipping aggregation cycle: %d consenting users (minimum %d)",
			insights.Metadata.TotalUsers, config.SchedulerMinUsers)
		return
	}
	if insights.Insights.TotalRecentEntries < config.SchedulerMinEntries {
		log.Printf("Skipping aggregation cycle: %d recent entries (minimum %d)",
			insights.Insights.TotalRecentEntries, config.SchedulerMinEntries)
		return
	}

	snapshot, err := r.generateSnapshot(ctx)
	if err != nil {
		r.mu.Lock()
		r.errorCount++
		r.mu.Unlock()
		log.Printf("Aggregation cycle failed: %v", err)
		return
	}

	r.cache.Set(snapshotCacheKey, snapshot, config.SnapshotTTL)

	r.mu.Lock()
	r.runCount++
	r.lastRun = r.now()
	r.mu.Unlock()

	log.Printf("Aggregation cycle completed: snapshot %s (%d entries, dominant %q)",
		snapshot.ID, snapshot.SampleSize, snapshot.DominantEmotion)
}

// generateSnapshot materializes a fresh snapshot over the 10-minute
// window, bypassing the aggregate cache.
func (r *Runner) generateSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	result := r.engine.AggregatedEmotionalData(ctx, aggregate.Options{
		TimeRange:        config.SchedulerWindowLabel,
		GroupBy:          aggregate.GroupByHour,
		IncludeIntensity: true,
		ForceRefresh:     true,
	})
	if !result.Success {
		return nil, fmt.Errorf("aggregation failed: %s", result.Message)
	}

	sampleSize := 0
	counts := make(map[string]int)
	for _, bucket := range result.Data {
		sampleSize += bucket.TotalEntries
		for _, stat := range bucket.Emotions {
			counts[stat.Emotion] += stat.Count
		}
	}

	dominant := ""
	best := 0
	for emotion, count := range counts {
		if count > best || (count == best && emotion < dominant) {
			dominant = emotion
			best = count
		}
	}

	return &domain.Snapshot{
		ID:              uuid.NewString(),
		SampleSize:      sampleSize,
		DominantEmotion: dominant,
		Archetype:       domain.Archetype(dominant),
		WindowLabel:     config.SchedulerWindowLabel,
		GeneratedAt:     r.now(),
	}, nil
}

// LatestSnapshot returns the most recently materialized snapshot, if one
// is still cached.
func (r *Runner) LatestSnapshot() (*domain.Snapshot, bool) {
	cached, ok := r.cache.Get(snapshotCacheKey)
	if !ok {
		return nil, false
	}
	snapshot, ok := cached.(*domain.Snapshot)
	return snapshot, ok
}

// Status reports the current runner state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		IsRunning:  r.running,
		RunCount:   r.runCount,
		ErrorCount: r.errorCount,
		Interval:   r.interval,
	}
	if !r.lastRun.IsZero() {
		lastRun := r.lastRun
		status.LastRun = &lastRun
	}
	return status
}

// Stats reports run outcomes. SuccessRate is zero until the first counted
// run.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		RunCount:   r.runCount,
		ErrorCount: r.errorCount,
	}
	if r.runCount > 0 {
		stats.SuccessRate = float64(r.runCount-r.errorCount) / float64(r.runCount) * 100
	}
	if !r.lastRun.IsZero() {
		lastRun := r.lastRun
		stats.LastRun = &lastRun
	}
	return stats
}

// ResetStats zeroes the counters without touching the running state.
func (r *Runner) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runCount = 0
	r.errorCount = 0
	r.lastRun = time.Time{}
}
