package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// Store keeps everything in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.UserProfile
	consents []domain.ConsentRecord
	logs     []domain.EmotionalLogEntry
	sessions []domain.Session
	events   []domain.AnalyticsEvent

	// down simulates a lost database connection when set.
	down bool
}

// New creates an in-memory store.
func New() *Store {
	return &Store{
		users: make(map[string]domain.UserProfile),
	}
}

// SetDown toggles simulated connectivity loss. While down, every operation
// returns storage.ErrUnavailable.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// AddUser seeds a user profile.
func (s *Store) AddUser(u domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddConsent seeds a consent record.
func (s *Store) AddConsent(c domain.ConsentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents = append(s.consents, c)
}

// AddLog seeds an emotional-log entry.
func (s *Store) AddLog(e domain.EmotionalLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
}

// AddSession seeds a session.
func (s *Store) AddSession(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// Ping reports simulated connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return storage.ErrUnavailable
	}
	return nil
}

// GrantedConsent returns granted consent records, resolving each UserID
// against the seeded user profiles.
func (s *Store) GrantedConsent(ctx context.Context) ([]domain.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, storage.ErrUnavailable
	}

	var results []domain.ConsentRecord
	for _, c := range s.consents {
		if c.Status != domain.ConsentGranted {
			continue
		}
		_, resolved := s.users[c.UserID]
		c.UserResolved = resolved && c.UserID != ""
		results = append(results, c)
	}
	return results, nil
}

// EmotionalLogs returns entries for the given users with non-empty emotion
// and timestamp at or after since (zero since = no lower bound).
func (s *Store) EmotionalLogs(ctx context.Context, userIDs []string, since time.Time) ([]domain.EmotionalLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, storage.ErrUnavailable
	}

	wanted := toSet(userIDs)
	var results []domain.EmotionalLogEntry
	for _, e := range s.logs {
		if !wanted[e.UserID] {
			continue
		}
		if e.Emotion == "" {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		results = append(results, e)
	}
	return results, nil
}

// UserActivity computes per-user aggregate counters from the seeded data.
func (s *Store) UserActivity(ctx context.Context, userIDs []string) ([]domain.UserActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, storage.ErrUnavailable
	}

	now := time.Now()
	results := make([]domain.UserActivity, 0, len(userIDs))
	for _, id := range userIDs {
		u, ok := s.users[id]
		if !ok {
			continue
		}

		activity := domain.UserActivity{
			UserID:         id,
			AccountAgeDays: now.Sub(u.CreatedAt).Hours() / 24,
		}

		var intensitySum float64
		for _, e := range s.logs {
			if e.UserID != id {
				continue
			}
			activity.LogCount++
			intensitySum += e.Intensity
			if e.Timestamp.After(activity.LastActivity) {
				activity.LastActivity = e.Timestamp
			}
		}
		if activity.LogCount > 0 {
			activity.AvgIntensity = intensitySum / float64(activity.LogCount)
		}

		results = append(results, activity)
	}
	return results, nil
}

// CountActiveSessions counts sessions with an active status for the given users.
func (s *Store) CountActiveSessions(ctx context.Context, userIDs []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return 0, storage.ErrUnavailable
	}

	wanted := toSet(userIDs)
	count := 0
	for _, sess := range s.sessions {
		if !wanted[sess.UserID] {
			continue
		}
		if sess.Status == domain.SessionActive || sess.Status == domain.SessionInProgress {
			count++
		}
	}
	return count, nil
}

// WriteEvents appends a batch of analytics events.
func (s *Store) WriteEvents(ctx context.Context, events []domain.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return storage.ErrUnavailable
	}

	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of all stored analytics events (test helper).
func (s *Store) Events() []domain.AnalyticsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.AnalyticsEvent, len(s.events))
	copy(events, s.events)
	return events
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}

// Stats returns storage statistics.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, storage.ErrUnavailable
	}

	stats := &storage.Stats{
		TotalUsers:    uint64(len(s.users)),
		TotalConsents: uint64(len(s.consents)),
		TotalLogs:     uint64(len(s.logs)),
		TotalEvents:   uint64(len(s.events)),
	}

	for _, e := range s.logs {
		if stats.OldestLog.IsZero() || e.Timestamp.Before(stats.OldestLog) {
			stats.OldestLog = e.Timestamp
		}
		if e.Timestamp.After(stats.NewestLog) {
			stats.NewestLog = e.Timestamp
		}
	}

	// Rough size estimate (each record ~100 bytes)
	stats.SizeBytes = (stats.TotalUsers + stats.TotalConsents + stats.TotalLogs + stats.TotalEvents) * 100

	return stats, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
