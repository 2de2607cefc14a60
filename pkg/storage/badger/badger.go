package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// Key prefixes partition the keyspace by record kind so scans can stay
// within a single kind.
var (
	prefixUser    = []byte("u:")
	prefixConsent = []byte("c:")
	prefixLog     = []byte("l:")
	prefixSession = []byte("s:")
	prefixEvent   = []byte("e:")
)

// Store implements storage.Store using BadgerDB (LSM tree).
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = defaults).
	// Recommended: 64-128 MB for local dev, 256-512 MB for production.
	MaxMemoryMB int64
}

// New creates a BadgerDB store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits. BadgerDB defaults add up to ~320 MB;
	// a 16 MB memtable is the floor before flush churn hurts writes.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database is open and responsive.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrUnavailable
	}
	return nil
}

// PutUser stores a user profile.
func (s *Store) PutUser(ctx context.Context, u domain.UserProfile) error {
	return s.put(ctx, idKey(prefixUser, u.ID), u)
}

// PutConsent stores a consent record keyed by user id.
func (s *Store) PutConsent(ctx context.Context, c domain.ConsentRecord) error {
	return s.put(ctx, idKey(prefixConsent, c.UserID), c)
}

// PutLog stores an emotional-log entry. Keys combine a hash of the user id
// with big-endian nanos, so entries for one user iterate in time order.
func (s *Store) PutLog(ctx context.Context, e domain.EmotionalLogEntry) error {
	return s.put(ctx, logKey(e.UserID, e.Timestamp), e)
}

// PutSession stores a session keyed by user id and start time.
func (s *Store) PutSession(ctx context.Context, sess domain.Session) error {
	key := append([]byte{}, prefixSession...)
	key = append(key, sess.UserID...)
	key = append(key, ':')
	key = binary.BigEndian.AppendUint64(key, uint64(sess.StartedAt.UnixNano()))
	return s.put(ctx, key, sess)
}

func (s *Store) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// GrantedConsent returns granted consent records with user resolution.
func (s *Store) GrantedConsent(ctx context.Context) ([]domain.ConsentRecord, error) {
	var results []domain.ConsentRecord

	err := s.view(ctx, func(txn *badger.Txn) error {
		var consents []domain.ConsentRecord
		if err := scanPrefix(ctx, txn, prefixConsent, func(val []byte) error {
			var c domain.ConsentRecord
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if c.Status == domain.ConsentGranted {
				consents = append(consents, c)
			}
			return nil
		}); err != nil {
			return err
		}

		// Resolve each record's user within the same transaction.
		for _, c := range consents {
			c.UserResolved = false
			if c.UserID != "" {
				_, err := txn.Get(idKey(prefixUser, c.UserID))
				c.UserResolved = err == nil
			}
			results = append(results, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EmotionalLogs returns matching log entries for the given users.
func (s *Store) EmotionalLogs(ctx context.Context, userIDs []string, since time.Time) ([]domain.EmotionalLogEntry, error) {
	var results []domain.EmotionalLogEntry

	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range userIDs {
			prefix := logPrefix(id)
			if err := scanPrefix(ctx, txn, prefix, func(val []byte) error {
				var e domain.EmotionalLogEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				if e.Emotion == "" {
					return nil
				}
				if !since.IsZero() && e.Timestamp.Before(since) {
					return nil
				}
				results = append(results, e)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UserActivity computes per-user counters by scanning each user's logs.
func (s *Store) UserActivity(ctx context.Context, userIDs []string) ([]domain.UserActivity, error) {
	now := time.Now()
	var results []domain.UserActivity

	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range userIDs {
			item, err := txn.Get(idKey(prefixUser, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}

			var u domain.UserProfile
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}

			activity := domain.UserActivity{
				UserID:         id,
				AccountAgeDays: now.Sub(u.CreatedAt).Hours() / 24,
			}

			var intensitySum float64
			if err := scanPrefix(ctx, txn, logPrefix(id), func(val []byte) error {
				var e domain.EmotionalLogEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				activity.LogCount++
				intensitySum += e.Intensity
				if e.Timestamp.After(activity.LastActivity) {
					activity.LastActivity = e.Timestamp
				}
				return nil
			}); err != nil {
				return err
			}
			if activity.LogCount > 0 {
				activity.AvgIntensity = intensitySum / float64(activity.LogCount)
			}

			results = append(results, activity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CountActiveSessions counts sessions in an active status for the given users.
func (s *Store) CountActiveSessions(ctx context.Context, userIDs []string) (int, error) {
	count := 0

	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range userIDs {
			prefix := append([]byte{}, prefixSession...)
			prefix = append(prefix, id...)
			prefix = append(prefix, ':')

			if err := scanPrefix(ctx, txn, prefix, func(val []byte) error {
				var sess domain.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return err
				}
				if sess.Status == domain.SessionActive || sess.Status == domain.SessionInProgress {
					count++
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// WriteEvents bulk-inserts analytics events in a single transaction.
func (s *Store) WriteEvents(ctx context.Context, events []domain.AnalyticsEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, e := range events {
				// Check context periodically (every 100 events)
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := append([]byte{}, prefixEvent...)
				key = binary.BigEndian.AppendUint64(key, uint64(e.Timestamp.UnixNano()))
				key = append(key, ':')
				key = append(key, e.ID...)

				value, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("failed to encode event: %w", err)
				}
				if err := txn.Set(key, value); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk space.
// discardRatio: run GC if this fraction of a file can be discarded.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			key := it.Item().Key()
			switch {
			case hasPrefix(key, prefixUser):
				stats.TotalUsers++
			case hasPrefix(key, prefixConsent):
				stats.TotalConsents++
			case hasPrefix(key, prefixLog):
				stats.TotalLogs++
				ts := logKeyTime(key)
				if stats.OldestLog.IsZero() || ts.Before(stats.OldestLog) {
					stats.OldestLog = ts
				}
				if ts.After(stats.NewestLog) {
					stats.NewestLog = ts
				}
			case hasPrefix(key, prefixEvent):
				stats.TotalEvents++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)

	return stats, nil
}

// view runs fn in a read transaction through the done-channel pattern so a
// hung iteration cannot outlive the caller's context.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.View(fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("read operation cancelled: %w", ctx.Err())
	}
}

// scanPrefix iterates all values under prefix, checking ctx periodically.
func scanPrefix(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 100

	it := txn.NewIterator(opts)
	defer it.Close()

	var iterCount int
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		iterCount++
		if iterCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// idKey builds prefix+id without aliasing the shared prefix slice.
func idKey(prefix []byte, id string) []byte {
	key := append([]byte{}, prefix...)
	return append(key, id...)
}

// logPrefix returns the key prefix covering one user's log entries.
// Format: "l:" + user_hash (8 bytes)
func logPrefix(userID string) []byte {
	prefix := append([]byte{}, prefixLog...)
	prefix = binary.BigEndian.AppendUint64(prefix, xxhash.Sum64String(userID))
	return prefix
}

// logKey creates a sortable log key: "l:" + user_hash + timestamp nanos
// + 8 random bytes. The random suffix keeps entries with identical
// timestamps from overwriting each other; ordering within a tie is
// arbitrary.
func logKey(userID string, ts time.Time) []byte {
	key := logPrefix(userID)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	u := uuid.New()
	return append(key, u[:8]...)
}

// logKeyTime extracts the timestamp from a log key. The nanos sit at a
// fixed offset after the prefix and user hash, so the trailing suffix
// does not matter here.
func logKeyTime(key []byte) time.Time {
	if len(key) < len(prefixLog)+16 {
		return time.Time{}
	}
	tsNano := binary.BigEndian.Uint64(key[len(prefixLog)+8:])
	return time.Unix(0, int64(tsNano))
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}
