package storage

import (
	"context"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/domain"
)

// Store defines the interface for durable storage backends.
// Implementations: memory (testing), badger (production)
type Store interface {
	// Ping reports whether the store is reachable. Every aggregation
	// preamble gates on this before touching data.
	Ping(ctx context.Context) error

	// GrantedConsent returns all consent records with status "granted".
	// Records whose user no longer exists are returned with
	// UserResolved=false; callers must filter them out before use.
	GrantedConsent(ctx context.Context) ([]domain.ConsentRecord, error)

	// EmotionalLogs returns log entries for the given users with a
	// non-empty emotion and timestamp in [since, now]. A zero since
	// means no lower bound.
	EmotionalLogs(ctx context.Context, userIDs []string, since time.Time) ([]domain.EmotionalLogEntry, error)

	// UserActivity returns per-user aggregate counters: log count,
	// account age, last activity, average intensity.
	UserActivity(ctx context.Context, userIDs []string) ([]domain.UserActivity, error)

	// CountActiveSessions counts sessions for the given users whose
	// status is active or in_progress.
	CountActiveSessions(ctx context.Context, userIDs []string) (int, error)

	// WriteEvents bulk-inserts a batch of analytics events.
	WriteEvents(ctx context.Context, events []domain.AnalyticsEvent) error

	// Close cleanly shuts down the store
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Stats provides storage health and usage info
type Stats struct {
	// Totals per record kind
	TotalUsers    uint64 `json:"total_users"`
	TotalConsents uint64 `json:"total_consents"`
	TotalLogs     uint64 `json:"total_logs"`
	TotalEvents   uint64 `json:"total_events"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest log entry timestamps
	OldestLog time.Time `json:"oldest_log"`
	NewestLog time.Time `json:"newest_log"`
}
