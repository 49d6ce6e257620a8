package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/hirameki/internal/model"
)

// Redis key layout. Entries and their hit counters share the entry TTL;
// the stats counters live until purged.
const (
	redisEntryPrefix = "memo:e:"
	redisHitsPrefix  = "memo:h:"
	redisStatHits    = "memo:stats:hits"
	redisStatMisses  = "memo:stats:misses"
	redisStatInserts = "memo:stats:inserts"
	redisStatSaved   = "memo:stats:saved_ms"
)

// RedisStore is the shared Store backend for multi-replica deployments.
// Expiry is delegated to Redis; EvictExpired is a no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// redisEntry is the JSON body stored under each entry key.
type redisEntry struct {
	Payload    model.AgentPayload `json:"payload"`
	DurationMs int64              `json:"duration_ms"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewRedisStore connects to the Redis at url and returns a memo store
// whose entries live for ttl.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Lookup returns the entry for key if Redis still holds it.
func (s *RedisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Miss accounting is best effort.
		s.client.Incr(ctx, redisStatMisses)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: lookup %s: %w", key, err)
	}

	var stored redisEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry %s: %w", key, err)
	}

	pipe := s.client.Pipeline()
	accessCmd := pipe.Incr(ctx, redisHitsPrefix+key)
	pipe.Expire(ctx, redisHitsPrefix+key, s.ttl)
	pipe.Incr(ctx, redisStatHits)
	pipe.IncrBy(ctx, redisStatSaved, stored.DurationMs)
	ttlCmd := pipe.PTTL(ctx, redisEntryPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, false, fmt.Errorf("cache: record hit %s: %w", key, err)
	}

	entry := Entry{
		Key:         key,
		Payload:     stored.Payload,
		DurationMs:  stored.DurationMs,
		CreatedAt:   stored.CreatedAt,
		AccessCount: accessCmd.Val(),
	}
	if remaining := ttlCmd.Val(); remaining > 0 {
		entry.ExpiresAt = time.Now().Add(remaining)
	}
	return entry, true, nil
}

// Insert stores payload under key with the configured TTL.
func (s *RedisStore) Insert(ctx context.Context, key string, payload model.AgentPayload, execDuration time.Duration) error {
	data, err := json.Marshal(redisEntry{
		Payload:    payload,
		DurationMs: execDuration.Milliseconds(),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry %s: %w", key, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisEntryPrefix+key, data, s.ttl)
	pipe.Del(ctx, redisHitsPrefix+key)
	pipe.Incr(ctx, redisStatInserts)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: insert %s: %w", key, err)
	}
	return nil
}

// EvictExpired is a no-op: Redis expires entries natively.
func (s *RedisStore) EvictExpired(context.Context) (int, error) { return 0, nil }

// Stats returns the aggregate counters and a scan-based entry count.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	vals, err := s.client.MGet(ctx, redisStatHits, redisStatMisses, redisStatInserts, redisStatSaved).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: read stats: %w", err)
	}

	counter := func(v any) int64 {
		str, ok := v.(string)
		if !ok {
			return 0
		}
		n, _ := strconv.ParseInt(str, 10, 64)
		return n
	}

	stats := Stats{
		Hits:        counter(vals[0]),
		Misses:      counter(vals[1]),
		Inserts:     counter(vals[2]),
		TimeSavedMs: counter(vals[3]),
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisEntryPrefix+"*", 256).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("cache: count entries: %w", err)
		}
		stats.Entries += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats, nil
}

// Purge drops every memo key, counters included.
func (s *RedisStore) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "memo:*", 256).Result()
		if err != nil {
			return fmt.Errorf("cache: purge scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: purge delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping reports Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
