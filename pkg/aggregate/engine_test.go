package aggregate

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/cache"
	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage/memory"
)

func seedConsentingUser(store *memory.Store, id string, createdAt time.Time) {
	store.AddUser(domain.UserProfile{ID: id, CreatedAt: createdAt})
	store.AddConsent(domain.ConsentRecord{UserID: id, Status: domain.ConsentGranted})
}

func TestAggregatedEmotionalData_GroupsAndPercentages(t *testing.T) {
	store := memory.New()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	seedConsentingUser(store, "u1", now.AddDate(0, 0, -60))
	seedConsentingUser(store, "u2", now.AddDate(0, 0, -60))

	day1 := now.AddDate(0, 0, -2)
	day2 := now.AddDate(0, 0, -1)
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: day1})
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 8, Timestamp: day1})
	store.AddLog(domain.EmotionalLogEntry{UserID: "u2", Emotion: "curious", Intensity: 7, Timestamp: day1})
	store.AddLog(domain.EmotionalLogEntry{UserID: "u2", Emotion: "curious", Intensity: 5, Timestamp: day2})

	engine := NewWithClock(store, cache.New(), func() time.Time { return now })

	result := engine.AggregatedEmotionalData(context.Background(), Options{
		TimeRange:        Range7d,
		GroupBy:          GroupByDay,
		IncludeIntensity: true,
	})

	if !result.Success {
		t.Fatalf("aggregation failed: %s / %s", result.Message, result.Err)
	}
	if result.Metadata.IsSampleData {
		t.Fatal("real data flagged as sample data")
	}
	if result.Metadata.TotalUsers != 2 {
		t.Errorf("TotalUsers = %d, want 2", result.Metadata.TotalUsers)
	}
	if len(result.Data) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(result.Data))
	}

	// Buckets sorted chronologically
	if result.Data[0].TimeGroup >= result.Data[1].TimeGroup {
		t.Errorf("buckets out of order: %q >= %q", result.Data[0].TimeGroup, result.Data[1].TimeGroup)
	}

	first := result.Data[0]
	if first.TotalEntries != 3 {
		t.Errorf("day1 TotalEntries = %d, want 3", first.TotalEntries)
	}
	if len(first.Emotions) != 2 {
		t.Fatalf("day1 emotion groups = %d, want 2", len(first.Emotions))
	}

	// Sorted by count descending: calm (2) before curious (1)
	if first.Emotions[0].Emotion != "calm" || first.Emotions[0].Count != 2 {
		t.Errorf("day1 top emotion = %+v, want calm x2", first.Emotions[0])
	}
	if first.Emotions[0].Percentage != "66.67" {
		t.Errorf("calm percentage = %q, want 66.67", first.Emotions[0].Percentage)
	}
	if first.Emotions[0].AvgIntensity != 7 {
		t.Errorf("calm avg intensity = %v, want 7", first.Emotions[0].AvgIntensity)
	}

	// Percentages within a bucket sum to ~100
	var sum float64
	for _, stat := range first.Emotions {
		p, err := strconv.ParseFloat(stat.Percentage, 64)
		if err != nil {
			t.Fatalf("unparseable percentage %q: %v", stat.Percentage, err)
		}
		sum += p
	}
	if sum < 99.9 || sum > 100.1 {
		t.Errorf("percentages sum to %v, want ~100", sum)
	}
}

func TestAggregatedEmotionalData_IntensityOmittedByDefault(t *testing.T) {
	store := memory.New()
	now := time.Now()
	seedConsentingUser(store, "u1", now.AddDate(0, 0, -30))
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})

	engine := New(store, cache.New())
	result := engine.AggregatedEmotionalData(context.Background(), Options{TimeRange: Range7d})

	if !result.Success {
		t.Fatalf("aggregation failed: %s", result.Message)
	}
	if got := result.Data[0].Emotions[0].AvgIntensity; got != 0 {
		t.Errorf("AvgIntensity = %v without intensity option, want 0", got)
	}
}

func TestAggregatedEmotionalData_SampleFallback(t *testing.T) {
	store := memory.New()
	engine := New(store, cache.New())

	result := engine.AggregatedEmotionalData(context.Background(), Options{
		TimeRange: Range7d,
		GroupBy:   GroupByDay,
	})

	if !result.Success {
		t.Fatalf("sample fallback not successful: %s", result.Message)
	}
	if !result.Metadata.IsSampleData {
		t.Fatal("expected sample data flag with zero consenting users")
	}
	if result.Metadata.TotalUsers != 2 {
		t.Errorf("sample TotalUsers = %d, want 2", result.Metadata.TotalUsers)
	}
	if len(result.Data) != 7 {
		t.Errorf("day-granularity sample buckets = %d, want 7", len(result.Data))
	}
	for _, bucket := range result.Data {
		if len(bucket.Emotions) != 5 {
			t.Errorf("sample bucket %q has %d emotions, want 5", bucket.TimeGroup, len(bucket.Emotions))
		}
		for _, stat := range bucket.Emotions {
			if stat.Count < 1 {
				t.Errorf("sample count %d for %q, want >= 1", stat.Count, stat.Emotion)
			}
		}
	}
}

func TestAggregatedEmotionalData_SampleNotCached(t *testing.T) {
	store := memory.New()
	c := cache.New()
	engine := New(store, c)

	engine.AggregatedEmotionalData(context.Background(), Options{TimeRange: Range7d})
	if c.Len() != 0 {
		t.Errorf("sample result was cached, cache has %d entries", c.Len())
	}
}

// countingStore tracks how often the log query runs.
type countingStore struct {
	*memory.Store
	logQueries int
}

func (s *countingStore) EmotionalLogs(ctx context.Context, userIDs []string, since time.Time) ([]domain.EmotionalLogEntry, error) {
	s.logQueries++
	return s.Store.EmotionalLogs(ctx, userIDs, since)
}

func TestAggregatedEmotionalData_BelowMinConsentFallsBack(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	now := time.Now()
	seedConsentingUser(store.Store, "u1", now.AddDate(0, 0, -30))
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})

	engine := New(store, cache.New())
	result := engine.AggregatedEmotionalData(context.Background(), Options{
		TimeRange:       Range7d,
		MinConsentCount: 3,
	})

	if !result.Metadata.IsSampleData {
		t.Fatal("one consenting user below MinConsentCount=3 should yield sample data")
	}
	// The fallback path never touches the log store
	if store.logQueries != 0 {
		t.Errorf("log store queried %d times on the fallback path, want 0", store.logQueries)
	}
}

func TestAggregatedEmotionalData_AllDanglingFallsBack(t *testing.T) {
	store := &countingStore{Store: memory.New()}

	// Granted consent records exist, but none resolves to a live user
	store.AddConsent(domain.ConsentRecord{UserID: "ghost1", Status: domain.ConsentGranted})
	store.AddConsent(domain.ConsentRecord{UserID: "ghost2", Status: domain.ConsentGranted})

	engine := New(store, cache.New())
	result := engine.AggregatedEmotionalData(context.Background(), Options{TimeRange: Range7d})

	if !result.Metadata.IsSampleData {
		t.Fatal("expected sample fallback when every consent record is dangling")
	}
	if store.logQueries != 0 {
		t.Errorf("log store queried %d times on the fallback path, want 0", store.logQueries)
	}
}

func TestAggregatedEmotionalData_DanglingConsentExcluded(t *testing.T) {
	store := memory.New()
	now := time.Now()

	seedConsentingUser(store, "u1", now.AddDate(0, 0, -30))
	// Consent whose user record no longer exists
	store.AddConsent(domain.ConsentRecord{UserID: "ghost", Status: domain.ConsentGranted})
	// Revoked consent never counts
	store.AddUser(domain.UserProfile{ID: "u2", CreatedAt: now.AddDate(0, 0, -30)})
	store.AddConsent(domain.ConsentRecord{UserID: "u2", Status: domain.ConsentRevoked})

	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})
	store.AddLog(domain.EmotionalLogEntry{UserID: "ghost", Emotion: "angry", Intensity: 9, Timestamp: now.Add(-time.Hour)})
	store.AddLog(domain.EmotionalLogEntry{UserID: "u2", Emotion: "sad", Intensity: 4, Timestamp: now.Add(-time.Hour)})

	engine := New(store, cache.New())
	result := engine.AggregatedEmotionalData(context.Background(), Options{TimeRange: Range7d})

	if !result.Success || result.Metadata.IsSampleData {
		t.Fatalf("unexpected result: success=%v sample=%v", result.Success, result.Metadata.IsSampleData)
	}
	if result.Metadata.TotalUsers != 1 {
		t.Errorf("TotalUsers = %d, want 1 (dangling and revoked excluded)", result.Metadata.TotalUsers)
	}
	for _, bucket := range result.Data {
		for _, stat := range bucket.Emotions {
			if stat.Emotion == "angry" || stat.Emotion == "sad" {
				t.Errorf("non-consenting emotion %q leaked into aggregate", stat.Emotion)
			}
		}
	}
}

func TestAggregatedEmotionalData_CachedAndForceRefresh(t *testing.T) {
	store := memory.New()
	now := time.Now()
	seedConsentingUser(store, "u1", now.AddDate(0, 0, -30))
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})

	engine := New(store, cache.New())
	opts := Options{TimeRange: Range7d}

	first := engine.AggregatedEmotionalData(context.Background(), opts)
	if !first.Success {
		t.Fatalf("first call failed: %s", first.Message)
	}

	// New data does not appear while the cached result is fresh
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "hopeful", Intensity: 7, Timestamp: now})
	second := engine.AggregatedEmotionalData(context.Background(), opts)
	if second != first {
		t.Error("expected cached result pointer on second call")
	}

	opts.ForceRefresh = true
	third := engine.AggregatedEmotionalData(context.Background(), opts)
	if third == first {
		t.Error("ForceRefresh returned the cached result")
	}
}

func TestAggregatedEmotionalData_StoreDown(t *testing.T) {
	store := memory.New()
	store.SetDown(true)

	engine := New(store, cache.New())
	result := engine.AggregatedEmotionalData(context.Background(), Options{})

	if result.Success {
		t.Fatal("expected structured failure when store is down")
	}
	if result.Err == "" {
		t.Error("failure result missing error detail")
	}
}

func TestRealTimeInsights(t *testing.T) {
	store := memory.New()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		seedConsentingUser(store, "u"+strconv.Itoa(i), now.AddDate(0, 0, -30))
	}

	recent := now.Add(-2 * time.Hour)
	for i := 0; i < 7; i++ {
		store.AddLog(domain.EmotionalLogEntry{UserID: "u0", Emotion: "calm", Intensity: 6, Timestamp: recent})
	}
	for i := 0; i < 5; i++ {
		store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "curious", Intensity: 8, Timestamp: recent})
	}
	for i := 0; i < 3; i++ {
		store.AddLog(domain.EmotionalLogEntry{UserID: "u2", Emotion: "hopeful", Intensity: 4, Timestamp: recent})
	}
	// Outside the 24h window, must not count
	store.AddLog(domain.EmotionalLogEntry{UserID: "u3", Emotion: "angry", Intensity: 9, Timestamp: now.Add(-48 * time.Hour)})

	store.AddSession(domain.Session{UserID: "u0", Status: domain.SessionActive})
	store.AddSession(domain.Session{UserID: "u1", Status: domain.SessionInProgress})
	store.AddSession(domain.Session{UserID: "u2", Status: "completed"})

	engine := NewWithClock(store, cache.New(), func() time.Time { return now })
	result := engine.RealTimeInsights(context.Background())

	if !result.Success {
		t.Fatalf("insights failed: %s", result.Message)
	}
	if result.Metadata.TotalUsers != 6 {
		t.Errorf("TotalUsers = %d, want 6", result.Metadata.TotalUsers)
	}

	insights := result.Insights
	if insights.TotalRecentEntries != 15 {
		t.Errorf("TotalRecentEntries = %d, want 15", insights.TotalRecentEntries)
	}
	if insights.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", insights.ActiveSessions)
	}
	if len(insights.TopEmotions) != 3 {
		t.Fatalf("TopEmotions = %d, want 3", len(insights.TopEmotions))
	}
	if insights.TopEmotions[0].Emotion != "calm" || insights.TopEmotions[0].Count != 7 {
		t.Errorf("top emotion = %+v, want calm x7", insights.TopEmotions[0])
	}
	for i := 1; i < len(insights.TopEmotions); i++ {
		if insights.TopEmotions[i].Count > insights.TopEmotions[i-1].Count {
			t.Error("TopEmotions not sorted by count descending")
		}
	}

	// Plain mean of per-emotion averages: (6 + 8 + 4) / 3
	if insights.AvgIntensity != 6 {
		t.Errorf("AvgIntensity = %v, want 6", insights.AvgIntensity)
	}
}

func TestRealTimeInsights_CacheFreshness(t *testing.T) {
	store := memory.New()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: now}

	seedConsentingUser(store, "u1", now.AddDate(0, 0, -30))
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})

	c := cache.NewWithClock(clock.Now)
	engine := NewWithClock(store, c, clock.Now)

	first := engine.RealTimeInsights(context.Background())
	if !first.Success {
		t.Fatalf("first call failed: %s", first.Message)
	}

	// Within the freshness window the cached pointer comes back
	clock.t = now.Add(2 * time.Minute)
	second := engine.RealTimeInsights(context.Background())
	if second != first {
		t.Error("expected cached insights inside freshness window")
	}

	// Past the window a recompute happens even if the entry survived
	clock.t = now.Add(10 * time.Minute)
	third := engine.RealTimeInsights(context.Background())
	if third == first {
		t.Error("stale insights served past the freshness window")
	}
}

func TestDemographicPatterns(t *testing.T) {
	store := memory.New()
	now := time.Now()

	// Heavy user: 12 logs, old account
	seedConsentingUser(store, "heavy", now.AddDate(0, 0, -100))
	for i := 0; i < 12; i++ {
		store.AddLog(domain.EmotionalLogEntry{UserID: "heavy", Emotion: "focused", Intensity: 7, Timestamp: now.Add(-time.Hour)})
	}
	// New user: 2 logs, 3-day-old account
	seedConsentingUser(store, "fresh", now.AddDate(0, 0, -3))
	store.AddLog(domain.EmotionalLogEntry{UserID: "fresh", Emotion: "curious", Intensity: 5, Timestamp: now.Add(-time.Hour)})
	store.AddLog(domain.EmotionalLogEntry{UserID: "fresh", Emotion: "calm", Intensity: 5, Timestamp: now.Add(-time.Hour)})

	engine := New(store, cache.New())
	result := engine.DemographicPatterns(context.Background(), DemographicOptions{IncludeActivityPatterns: true})

	if !result.Success {
		t.Fatalf("demographics failed: %s", result.Message)
	}
	if result.Demographics.TotalUsers != 2 {
		t.Errorf("TotalUsers = %d, want 2", result.Demographics.TotalUsers)
	}
	if result.Demographics.AvgEmotionalLogCount != 7 {
		t.Errorf("AvgEmotionalLogCount = %v, want 7", result.Demographics.AvgEmotionalLogCount)
	}

	patterns := result.ActivityPatterns
	if patterns == nil {
		t.Fatal("activity patterns missing despite option")
	}
	if patterns.ActiveUsers != 1 {
		t.Errorf("ActiveUsers = %d, want 1 (>10 logs)", patterns.ActiveUsers)
	}
	if patterns.NewUsers != 1 {
		t.Errorf("NewUsers = %d, want 1 (<7 days)", patterns.NewUsers)
	}
	if patterns.EngagementLevel != "50.00" {
		t.Errorf("EngagementLevel = %q, want 50.00", patterns.EngagementLevel)
	}
}

func TestClearCache(t *testing.T) {
	store := memory.New()
	now := time.Now()
	seedConsentingUser(store, "u1", now.AddDate(0, 0, -30))
	store.AddLog(domain.EmotionalLogEntry{UserID: "u1", Emotion: "calm", Intensity: 6, Timestamp: now.Add(-time.Hour)})

	c := cache.New()
	engine := New(store, c)

	engine.AggregatedEmotionalData(context.Background(), Options{TimeRange: Range7d})
	if c.Len() == 0 {
		t.Fatal("expected cached aggregate before flush")
	}

	engine.ClearCache()
	if c.Len() != 0 {
		t.Errorf("cache has %d entries after ClearCache", c.Len())
	}
}

// fakeClock is a mutable clock for freshness tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}
