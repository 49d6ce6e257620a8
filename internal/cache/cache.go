// Package cache implements the result memo store keyed by content
// fingerprint.
//
// The default backend is an in-process map (MemoryStore); deployments
// that run several replicas point HIRAMEKI_REDIS_URL at a shared Redis
// and get cross-instance hits — the Store interface is the contract.
//
// Entries expire by TTL only. There is no capacity bound: the working
// set is naturally limited by dataset churn, and an LRU would evict
// exactly the entries whose reuse pays for the cache.
package cache

import (
	"context"
	"time"

	"github.com/ashita-ai/hirameki/internal/model"
)

// Entry is one memoised agent result.
type Entry struct {
	Key     string             `json:"key"`
	Payload model.AgentPayload `json:"payload"`
	// DurationMs is how long the original execution took. Every hit
	// credits this much saved time.
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

// Stats reports aggregate cache effectiveness since process start
// (MemoryStore) or since the counters were last purged (RedisStore).
type Stats struct {
	Entries     int64 `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Inserts     int64 `json:"inserts"`
	TimeSavedMs int64 `json:"time_saved_ms"`
}

// Store memoises agent results by fingerprint key. Implementations must
// be safe for concurrent use. Store errors never fail a run; callers
// treat a failed Lookup as a miss and a failed Insert as a skipped
// write.
type Store interface {
	// Lookup returns the entry for key if one exists and has not
	// expired. A hit increments the entry's access count and the
	// store's saved-time accounting. Expired entries are never
	// returned, even if a sweep has not removed them yet.
	Lookup(ctx context.Context, key string) (Entry, bool, error)

	// Insert stores a successful result under key, overwriting any
	// previous entry. execDuration is the wall time of the execution
	// being memoised.
	Insert(ctx context.Context, key string, payload model.AgentPayload, execDuration time.Duration) error

	// EvictExpired removes entries whose TTL has lapsed and returns
	// how many were dropped. Backends with native expiry return 0.
	EvictExpired(ctx context.Context) (int, error)

	// Stats returns aggregate hit/miss/saved-time counters.
	Stats(ctx context.Context) (Stats, error)

	// Purge drops every entry and resets the counters.
	Purge(ctx context.Context) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	// Close releases resources (sweep goroutines, connections).
	Close() error
}
