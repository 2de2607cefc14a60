package domain

import "time"

// ConsentStatus is the state of a user's collective-data consent.
type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentPending ConsentStatus = "pending"
)

// ConsentRecord is a stored grant/revocation of permission for a user's
// data to be included in collective aggregates. Records can outlive their
// user; UserResolved reports whether UserID still points at a live profile
// so consumers can drop dangling records before use.
type ConsentRecord struct {
	UserID       string        `json:"user_id"`
	Status       ConsentStatus `json:"status"`
	UserResolved bool          `json:"user_resolved"`
}

// UserProfile is the minimal slice of the user aggregate the collective
// pipeline needs: identity and account creation time.
type UserProfile struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// EmotionalLogEntry is a single timestamped emotional-state observation
// owned by a user. Entries are immutable once written. Timestamps are
// insertion-ordered but not guaranteed monotonic (client clock skew).
type EmotionalLogEntry struct {
	UserID    string    `json:"user_id"`
	Emotion   string    `json:"emotion"`
	Intensity float64   `json:"intensity"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session statuses that count as currently active.
const (
	SessionActive     = "active"
	SessionInProgress = "in_progress"
)

// Session is a user app session. Only the status matters to the pipeline.
type Session struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// AnalyticsEvent is a discrete telemetry event buffered by the batcher and
// bulk-inserted into durable storage.
type AnalyticsEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// UserActivity is the per-user aggregate counter row used by demographic
// pattern analysis.
type UserActivity struct {
	UserID         string    `json:"user_id"`
	LogCount       int       `json:"log_count"`
	AccountAgeDays float64   `json:"account_age_days"`
	LastActivity   time.Time `json:"last_activity"`
	AvgIntensity   float64   `json:"avg_intensity"`
}

// Snapshot is a materialized aggregation result for a specific time window.
// Snapshots are never mutated after creation; each scheduler run replaces
// the cached pointer and the previous snapshot is simply dropped.
type Snapshot struct {
	ID              string    `json:"id"`
	SampleSize      int       `json:"sample_size"`
	DominantEmotion string    `json:"dominant_emotion"`
	Archetype       string    `json:"archetype"`
	WindowLabel     string    `json:"window_label"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Archetype maps a dominant emotion to its collective archetype label.
func Archetype(emotion string) string {
	switch emotion {
	case "curious":
		return "The Explorer"
	case "focused":
		return "The Builder"
	case "calm":
		return "The Anchor"
	case "hopeful":
		return "The Beacon"
	case "contemplative":
		return "The Observer"
	default:
		return "The Wanderer"
	}
}
