package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultMaxMemoryMB = 48
)

// Event batcher defaults
const (
	BatchSize     = 10
	FlushInterval = 5 * time.Second
	FlushTimeout  = 5 * time.Second
)

// Cache TTLs
const (
	AggregateTTL    = 1 * time.Hour
	DemographicsTTL = 1 * time.Hour
	InsightsTTL     = 5 * time.Minute
	SnapshotTTL     = 5 * time.Minute
)

// Aggregation thresholds and timeouts
const (
	DefaultMinConsentCount = 1
	InsightsWindow         = 24 * time.Hour
	QueryTimeout           = 30 * time.Second
)

// Scheduler gates and defaults
const (
	SchedulerInterval    = 10 * time.Minute
	SchedulerMinUsers    = 5
	SchedulerMinEntries  = 10
	SchedulerWindowLabel = "10m"
)

// WebSocket configuration
const (
	WSReadBufferSize    = 1024
	WSWriteBufferSize   = 1024
	WSBroadcastBuffer   = 256
	WSChannelBuffer     = 10
	WSWriteDeadline     = 10 * time.Second
	WSReadDeadline      = 60 * time.Second
	WSPingInterval      = 30 * time.Second
	WSBroadcastInterval = 5 * time.Second
)

// BadgerDB maintenance
const (
	BadgerGCInterval = 10 * time.Minute
)
