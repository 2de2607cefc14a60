/*
Package storage provides the pluggable durable-store abstraction for the
collective aggregation pipeline.

# Store Interface

The pipeline never talks to a database directly; it consumes a small set of
logical queries over user profiles, consent records, emotional logs, sessions
and analytics events:

	type Store interface {
	    Ping(ctx context.Context) error
	    GrantedConsent(ctx context.Context) ([]domain.ConsentRecord, error)
	    EmotionalLogs(ctx context.Context, userIDs []string, since time.Time) ([]domain.EmotionalLogEntry, error)
	    UserActivity(ctx context.Context, userIDs []string) ([]domain.UserActivity, error)
	    CountActiveSessions(ctx context.Context, userIDs []string) (int, error)
	    WriteEvents(ctx context.Context, events []domain.AnalyticsEvent) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Backends

  - memory: in-memory store for testing and development, with seed helpers
    for building fixtures
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

# Consent Semantics

GrantedConsent returns only records with status "granted", but does not drop
dangling records itself; it marks them with UserResolved=false. The
aggregation engine treats filtering those out as a mandatory data-integrity
guard, so the raw view stays observable for diagnostics.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	consents, err := store.GrantedConsent(ctx)
	ids := make([]string, 0, len(consents))
	for _, c := range consents {
	    if c.UserResolved {
	        ids = append(ids, c.UserID)
	    }
	}
	logs, err := store.EmotionalLogs(ctx, ids, time.Now().Add(-7*24*time.Hour))

# Best Practices

 1. Always call Close() when done to flush pending writes
 2. Use context.WithTimeout() to prevent hung queries
 3. Batch event writes (pass []AnalyticsEvent instead of single events)

# See Also

  - memory.New() for in-memory storage
  - badger.New() for persistent BadgerDB storage
  - pkg/aggregate for the grouping logic built on these queries
*/
package storage
