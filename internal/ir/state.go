package ir

import "time"

// ConnectionState is the process-wide view of network availability.
// Only the network monitor produces it; everything else reads snapshots.
type ConnectionState struct {
	IsOnline       bool      `json:"is_online"`
	IsReconnecting bool      `json:"is_reconnecting"`
	LastSyncTime   time.Time `json:"last_sync_time"`
}

// Metrics is the accumulated request/cache telemetry.
type Metrics struct {
	CacheHitRatio   float64       `json:"cache_hit_ratio"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	TotalRequests   int64         `json:"total_requests"`
	CacheHits       int64         `json:"cache_hits"`
}

// PromptDelay is how long a loading state without cached data should last
// before the UI falls back to the offline prompt: three average loads,
// never less than floor.
func (m Metrics) PromptDelay(floor time.Duration) time.Duration {
	d := 3 * m.AverageLoadTime
	if d < floor {
		return floor
	}
	return d
}
