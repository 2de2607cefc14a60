package server

import (
	"context"
	"log"
	"time"

	"github.com/dorianinnovations/numina-collective/pkg/aggregate"
	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
	"github.com/dorianinnovations/numina-collective/pkg/storage/badger"
)

// BroadcastInsights periodically pushes the real-time insight view to
// connected WebSocket clients. Uses exponential backoff on errors to
// prevent log spam during storage outages.
func BroadcastInsights(ctx context.Context, engine *aggregate.Engine, hub *InsightsHub) {
	ticker := time.NewTicker(config.WSBroadcastInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip the aggregation query entirely when nobody is listening
			if !hub.HasClients() {
				continue
			}

			result := engine.RealTimeInsights(ctx)
			if !result.Success {
				consecutiveErrors++
				now := time.Now()

				// Backoff doubles per error: 1s, 2s, 4s ... capped at 5m
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}

				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("Failed to build insights for broadcast (error #%d, backoff %v): %s",
						consecutiveErrors, backoff, result.Err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("Insight broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			update := map[string]interface{}{
				"type":      "insights_update",
				"timestamp": time.Now().Unix(),
				"insights":  result.Insights,
				"metadata":  result.Metadata,
			}

			if err := hub.Broadcast(update); err != nil {
				log.Printf("Failed to broadcast insights: %v", err)
			}
		}
	}
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim
// disk space. BadgerDB's value log accumulates deleted data; without GC
// disk usage grows without bound.
func RunBadgerGC(ctx context.Context, store storage.Store) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()

			// One iteration per tick with 0.5 discard ratio; RunGC errors
			// when no rewrite was needed, which is not a failure
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
