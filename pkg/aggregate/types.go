package aggregate

import (
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/domain"
)

// Options controls an emotional-data aggregation run.
type Options struct {
	// TimeRange is one of 10m|7d|30d|90d|1y|all. Empty means 30d.
	TimeRange string

	// GroupBy selects the bucket granularity. Empty means day.
	GroupBy Granularity

	// IncludeIntensity attaches per-emotion average intensity.
	IncludeIntensity bool

	// IncludeContext attaches the distinct non-empty context values.
	IncludeContext bool

	// MinConsentCount is the minimum consenting population before real
	// data is used. Zero means 1.
	MinConsentCount int

	// ForceRefresh bypasses the cache lookup (the result is still
	// cached). Used by the scheduler to materialize fresh snapshots.
	ForceRefresh bool
}

// Metadata describes how a result was produced.
type Metadata struct {
	TotalUsers   int         `json:"total_users"`
	TimeRange    string      `json:"time_range"`
	GroupBy      Granularity `json:"group_by"`
	DataPoints   int         `json:"data_points"`
	GeneratedAt  time.Time   `json:"generated_at"`
	IsSampleData bool        `json:"is_sample_data,omitempty"`
}

// EmotionStat is one emotion's summary within a bucket.
type EmotionStat struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`

	// Percentage of the bucket's entries, formatted to two decimals.
	Percentage string `json:"percentage"`

	AvgIntensity float64  `json:"avg_intensity,omitempty"`
	Contexts     []string `json:"contexts,omitempty"`
}

// EmotionBucket is one time bucket's aggregate.
type EmotionBucket struct {
	TimeGroup    string        `json:"time_group"`
	TotalEntries int           `json:"total_entries"`
	Emotions     []EmotionStat `json:"emotions"`
}

// Result is the outcome of an emotional-data aggregation. Failures are
// structured, never raised: Success=false with Message/Err set.
type Result struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Err      string          `json:"error,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
	Data     []EmotionBucket `json:"data,omitempty"`
}

// DemographicOptions controls demographic pattern analysis.
type DemographicOptions struct {
	IncludeActivityPatterns bool

	// IncludeGeographicData is accepted for API compatibility; the
	// pipeline does not collect geographic data.
	IncludeGeographicData bool
}

// Demographics is the population-level summary.
type Demographics struct {
	TotalUsers           int     `json:"total_users"`
	AvgEmotionalLogCount float64 `json:"avg_emotional_log_count"`
	AvgAccountAge        float64 `json:"avg_account_age"`
	AvgIntensity         float64 `json:"avg_intensity"`

	ActivityDistribution []domain.UserActivity `json:"activity_distribution"`
}

// ActivityPatterns are engagement derivations over the same population.
type ActivityPatterns struct {
	ActiveUsers     int     `json:"active_users"`     // >10 logged entries
	NewUsers        int     `json:"new_users"`        // account younger than 7 days
	EngagementLevel string  `json:"engagement_level"` // % with >5 entries, two decimals
	AvgEngagement   float64 `json:"avg_engagement"`
}

// DemographicsResult is the outcome of demographic pattern analysis.
type DemographicsResult struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message,omitempty"`
	Err              string            `json:"error,omitempty"`
	Metadata         *Metadata         `json:"metadata,omitempty"`
	Demographics     *Demographics     `json:"demographics,omitempty"`
	ActivityPatterns *ActivityPatterns `json:"activity_patterns,omitempty"`
}

// TopEmotion is one emotion's standing in the last-24h window.
type TopEmotion struct {
	Emotion      string  `json:"emotion"`
	Count        int     `json:"count"`
	AvgIntensity float64 `json:"avg_intensity"`
}

// Insights is the real-time (last 24h) view.
type Insights struct {
	TopEmotions        []TopEmotion `json:"top_emotions"`
	ActiveSessions     int          `json:"active_sessions"`
	TotalRecentEntries int          `json:"total_recent_entries"`

	// AvgIntensity is the unweighted mean of the per-emotion averages.
	AvgIntensity float64 `json:"avg_intensity"`
}

// InsightsResult is the outcome of a real-time insight computation.
type InsightsResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Err      string    `json:"error,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Insights *Insights `json:"insights,omitempty"`
}
