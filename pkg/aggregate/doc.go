/*
Package aggregate computes consent-respecting collective views over
emotional-log data.

# The Pipeline

Raw emotional-log entries live in durable storage, one per user per
observation. The engine turns them into three kinds of aggregate:

	┌─────────────────────────────────────────────────────────────┐
	│ AggregatedEmotionalData                                     │
	│ • Time-bucketed emotion counts, percentages, intensities    │
	│ • Buckets: hour / day / week / month                        │
	│ • Windows: 10m / 7d / 30d / 90d / 1y / all                  │
	└─────────────────────────────────────────────────────────────┘
	┌─────────────────────────────────────────────────────────────┐
	│ DemographicPatterns                                         │
	│ • Per-user activity counters rolled up to population level  │
	│ • Optional engagement derivations (active / new / engaged)  │
	└─────────────────────────────────────────────────────────────┘
	┌─────────────────────────────────────────────────────────────┐
	│ RealTimeInsights                                            │
	│ • Last-24h window: top emotions, active sessions, volume    │
	└─────────────────────────────────────────────────────────────┘

# Consent

Every computation starts from the set of users with granted collective-data
consent. Consent records whose user reference no longer resolves are dropped
before any data is read; this is a data-integrity guard, not an
optimization.

# Two-Pass Grouping

The bucketing works like a document database's $group pipeline, done
explicitly in memory:

	Pass 1: entries group by (emotion, bucketKey)
	        → count, intensity sum, distinct contexts
	Pass 2: pass-1 groups regroup by bucketKey alone
	        → per-bucket emotion summaries + entry total

Bucket keys are zero-padded (2024-03-05, 2024-W09, ...) so sorting them as
strings yields chronological order.

# Synthetic Fallback

When the consenting population is below the configured minimum, the engine
returns deterministic-shaped sample data instead of failing: the same five
emotion categories every time, with per-bucket counts jittered ±20%. Sample
results carry IsSampleData=true so callers can label them, and are never
cached.

# Failure Model

Public methods never propagate errors. Connectivity loss, consent-load
failures and computation errors all come back as a structured result with
Success=false and a message; insufficient data is not an error at all.

# See Also

  - pkg/storage for the durable-store queries this package consumes
  - pkg/scheduler for the loop that materializes snapshots from these views
*/
package aggregate
