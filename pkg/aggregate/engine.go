package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/cache"
	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// Cache keys for the fixed-key result families.
const (
	demographicsCacheKey = "demographics"
	insightsCacheKey     = "insights"
)

// Engine computes consent-respecting aggregate views over emotional-log
// data. All public methods report failures as structured results; they
// never propagate errors to the caller.
type Engine struct {
	store storage.Store
	cache *cache.Cache
	now   func() time.Time
}

// New creates an engine over the given store and cache.
func New(store storage.Store, c *cache.Cache) *Engine {
	return &Engine{
		store: store,
		cache: c,
		now:   time.Now,
	}
}

// NewWithClock creates an engine with an injected clock. Test use only.
func NewWithClock(store storage.Store, c *cache.Cache, now func() time.Time) *Engine {
	e := New(store, c)
	e.now = now
	return e
}

// consentedUserIDs loads granted consent records and applies the mandatory
// dangling-reference guard: records whose user no longer resolves are
// dropped before use.
func (e *Engine) consentedUserIDs(ctx context.Context) ([]string, error) {
	records, err := e.store.GrantedConsent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent records: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if !r.UserResolved || r.UserID == "" {
			continue
		}
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// AggregatedEmotionalData computes time-bucketed emotion summaries for the
// consenting population. When the population or data volume is
// insufficient it returns synthetic sample data tagged IsSampleData rather
// than failing.
func (e *Engine) AggregatedEmotionalData(ctx context.Context, opts Options) *Result {
	timeRange := opts.TimeRange
	if timeRange == "" {
		timeRange = Range30d
	}
	groupBy := opts.GroupBy
	if groupBy == "" {
		groupBy = GroupByDay
	}
	minConsent := opts.MinConsentCount
	if minConsent <= 0 {
		minConsent = config.DefaultMinConsentCount
	}

	if err := e.store.Ping(ctx); err != nil {
		return &Result{Success: false, Message: "collective data store unavailable", Err: err.Error()}
	}

	cacheKey := "aggregate:" + timeRange + ":" + string(groupBy)
	if !opts.ForceRefresh {
		if cached, ok := e.cache.Get(cacheKey); ok {
			if result, ok := cached.(*Result); ok {
				return result
			}
		}
	}

	userIDs, err := e.consentedUserIDs(ctx)
	if err != nil {
		return &Result{Success: false, Message: "failed to resolve consenting users", Err: err.Error()}
	}

	// Too few consenting users: fall back to synthetic sample data so the
	// collective view always has something plausible to show. Sample
	// results are tagged and never cached.
	if len(userIDs) == 0 || len(userIDs) < minConsent {
		return e.sampleResult(timeRange, groupBy, opts)
	}

	since := RangeStart(e.now(), timeRange)
	logs, err := e.store.EmotionalLogs(ctx, userIDs, since)
	if err != nil {
		return &Result{Success: false, Message: "failed to load emotional logs", Err: err.Error()}
	}

	buckets := groupLogs(logs, groupBy, opts)

	result := &Result{
		Success: true,
		Metadata: &Metadata{
			TotalUsers:  len(userIDs),
			TimeRange:   timeRange,
			GroupBy:     groupBy,
			DataPoints:  len(buckets),
			GeneratedAt: e.now(),
		},
		Data: buckets,
	}

	e.cache.Set(cacheKey, result, config.AggregateTTL)
	return result
}

// emotionGroup is the pass-1 accumulator keyed by (emotion, bucket).
type emotionGroup struct {
	emotion      string
	timeGroup    string
	count        int
	intensitySum float64
	contexts     map[string]bool
}

// groupLogs performs the two-pass reduction: entries group by
// (emotion, bucketKey) first, then regroup by bucketKey alone.
func groupLogs(logs []domain.EmotionalLogEntry, groupBy Granularity, opts Options) []EmotionBucket {
	// Pass 1: (emotion, bucket) -> count, intensity, contexts
	groups := make(map[string]*emotionGroup)
	for _, entry := range logs {
		if entry.Emotion == "" {
			continue
		}
		timeGroup := BucketKey(entry.Timestamp, groupBy)
		key := entry.Emotion + "@" + timeGroup

		g, exists := groups[key]
		if !exists {
			g = &emotionGroup{
				emotion:   entry.Emotion,
				timeGroup: timeGroup,
				contexts:  make(map[string]bool),
			}
			groups[key] = g
		}

		g.count++
		g.intensitySum += entry.Intensity
		if entry.Context != "" {
			g.contexts[entry.Context] = true
		}
	}

	// Pass 2: bucket -> emotion summaries + entry total
	byBucket := make(map[string][]*emotionGroup)
	for _, g := range groups {
		byBucket[g.timeGroup] = append(byBucket[g.timeGroup], g)
	}

	// Bucket keys are zero-padded, so string order is chronological.
	keys := make([]string, 0, len(byBucket))
	for k := range byBucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buckets := make([]EmotionBucket, 0, len(keys))
	for _, k := range keys {
		emotionGroups := byBucket[k]

		total := 0
		for _, g := range emotionGroups {
			total += g.count
		}

		sort.Slice(emotionGroups, func(i, j int) bool {
			if emotionGroups[i].count != emotionGroups[j].count {
				return emotionGroups[i].count > emotionGroups[j].count
			}
			return emotionGroups[i].emotion < emotionGroups[j].emotion
		})

		stats := make([]EmotionStat, 0, len(emotionGroups))
		for _, g := range emotionGroups {
			stat := EmotionStat{
				Emotion:    g.emotion,
				Count:      g.count,
				Percentage: formatPercent(g.count, total),
			}
			if opts.IncludeIntensity {
				stat.AvgIntensity = round2(g.intensitySum / float64(g.count))
			}
			if opts.IncludeContext && len(g.contexts) > 0 {
				contexts := make([]string, 0, len(g.contexts))
				for c := range g.contexts {
					contexts = append(contexts, c)
				}
				sort.Strings(contexts)
				stat.Contexts = contexts
			}
			stats = append(stats, stat)
		}

		buckets = append(buckets, EmotionBucket{
			TimeGroup:    k,
			TotalEntries: total,
			Emotions:     stats,
		})
	}

	return buckets
}

// DemographicPatterns computes population-level activity demographics for
// the consenting user set. The result is cached under a fixed key.
func (e *Engine) DemographicPatterns(ctx context.Context, opts DemographicOptions) *DemographicsResult {
	if err := e.store.Ping(ctx); err != nil {
		return &DemographicsResult{Success: false, Message: "collective data store unavailable", Err: err.Error()}
	}

	if cached, ok := e.cache.Get(demographicsCacheKey); ok {
		if result, ok := cached.(*DemographicsResult); ok {
			return result
		}
	}

	userIDs, err := e.consentedUserIDs(ctx)
	if err != nil {
		return &DemographicsResult{Success: false, Message: "failed to resolve consenting users", Err: err.Error()}
	}

	activities, err := e.store.UserActivity(ctx, userIDs)
	if err != nil {
		return &DemographicsResult{Success: false, Message: "failed to load user activity", Err: err.Error()}
	}

	demo := &Demographics{
		TotalUsers:           len(activities),
		ActivityDistribution: activities,
	}

	var logCountSum, accountAgeSum, intensitySum float64
	for _, a := range activities {
		logCountSum += float64(a.LogCount)
		accountAgeSum += a.AccountAgeDays
		intensitySum += a.AvgIntensity
	}
	if len(activities) > 0 {
		n := float64(len(activities))
		demo.AvgEmotionalLogCount = round2(logCountSum / n)
		demo.AvgAccountAge = round2(accountAgeSum / n)
		demo.AvgIntensity = round2(intensitySum / n)
	}

	result := &DemographicsResult{
		Success: true,
		Metadata: &Metadata{
			TotalUsers:  len(activities),
			GeneratedAt: e.now(),
		},
		Demographics: demo,
	}

	if opts.IncludeActivityPatterns {
		patterns := &ActivityPatterns{
			AvgEngagement: demo.AvgEmotionalLogCount,
		}
		engaged := 0
		for _, a := range activities {
			if a.LogCount > 10 {
				patterns.ActiveUsers++
			}
			if a.AccountAgeDays < 7 {
				patterns.NewUsers++
			}
			if a.LogCount > 5 {
				engaged++
			}
		}
		if len(activities) > 0 {
			patterns.EngagementLevel = formatPercent(engaged, len(activities))
		} else {
			patterns.EngagementLevel = formatPercent(0, 1)
		}
		result.ActivityPatterns = patterns
	}

	e.cache.Set(demographicsCacheKey, result, config.DemographicsTTL)
	return result
}

// RealTimeInsights computes the last-24h view: top emotions, active
// sessions, recent entry count and overall intensity. There is no
// synthetic fallback here; an empty window yields an empty result.
func (e *Engine) RealTimeInsights(ctx context.Context) *InsightsResult {
	if err := e.store.Ping(ctx); err != nil {
		return &InsightsResult{Success: false, Message: "collective data store unavailable", Err: err.Error()}
	}

	if cached, ok := e.cache.Get(insightsCacheKey); ok {
		if result, ok := cached.(*InsightsResult); ok {
			// Freshness re-check on top of the cache TTL: a result
			// generated more than the insights TTL ago is recomputed
			// even if the entry has not lazily expired yet.
			if result.Metadata != nil && e.now().Sub(result.Metadata.GeneratedAt) <= config.InsightsTTL {
				return result
			}
		}
	}

	userIDs, err := e.consentedUserIDs(ctx)
	if err != nil {
		return &InsightsResult{Success: false, Message: "failed to resolve consenting users", Err: err.Error()}
	}

	since := e.now().Add(-config.InsightsWindow)
	logs, err := e.store.EmotionalLogs(ctx, userIDs, since)
	if err != nil {
		return &InsightsResult{Success: false, Message: "failed to load emotional logs", Err: err.Error()}
	}

	type emotionAgg struct {
		count        int
		intensitySum float64
	}
	byEmotion := make(map[string]*emotionAgg)
	for _, entry := range logs {
		agg, exists := byEmotion[entry.Emotion]
		if !exists {
			agg = &emotionAgg{}
			byEmotion[entry.Emotion] = agg
		}
		agg.count++
		agg.intensitySum += entry.Intensity
	}

	top := make([]TopEmotion, 0, len(byEmotion))
	for emotion, agg := range byEmotion {
		top = append(top, TopEmotion{
			Emotion:      emotion,
			Count:        agg.count,
			AvgIntensity: round2(agg.intensitySum / float64(agg.count)),
		})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Emotion < top[j].Emotion
	})
	if len(top) > 10 {
		top = top[:10]
	}

	// Overall intensity is the plain mean of the per-emotion averages,
	// not weighted by count. Matches the original computation.
	var avgIntensity float64
	if len(top) > 0 {
		var sum float64
		for _, t := range top {
			sum += t.AvgIntensity
		}
		avgIntensity = round2(sum / float64(len(top)))
	}

	activeSessions, err := e.store.CountActiveSessions(ctx, userIDs)
	if err != nil {
		return &InsightsResult{Success: false, Message: "failed to count active sessions", Err: err.Error()}
	}

	display := top
	if len(display) > 5 {
		display = display[:5]
	}

	result := &InsightsResult{
		Success: true,
		Metadata: &Metadata{
			TotalUsers:  len(userIDs),
			TimeRange:   "24h",
			GeneratedAt: e.now(),
		},
		Insights: &Insights{
			TopEmotions:        display,
			ActiveSessions:     activeSessions,
			TotalRecentEntries: len(logs),
			AvgIntensity:       avgIntensity,
		},
	}

	e.cache.Set(insightsCacheKey, result, config.InsightsTTL)
	return result
}

// ClearCache drops every cached aggregate immediately.
func (e *Engine) ClearCache() {
	e.cache.FlushAll()
}

func formatPercent(count, total int) string {
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(count)/float64(total)*100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
