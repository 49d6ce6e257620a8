package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/hirameki/internal/model"
)

// sweepInterval is how often the background sweep drops expired entries.
// Lookup checks expiry itself, so the sweep only bounds memory growth.
const sweepInterval = time.Minute

// MemoryStore is the in-process Store backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	done    chan struct{}

	hits    int64
	misses  int64
	inserts int64
	savedMs int64
}

// NewMemoryStore creates a memo store whose entries live for ttl.
// Call Close to stop the background sweep goroutine.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Lookup returns the entry for key if present and unexpired.
func (s *MemoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		s.misses++
		return Entry{}, false, nil
	}
	entry.AccessCount++
	s.hits++
	s.savedMs += entry.DurationMs
	return *entry, true, nil
}

// Insert stores payload under key with the configured TTL, overwriting
// any previous entry.
func (s *MemoryStore) Insert(_ context.Context, key string, payload model.AgentPayload, execDuration time.Duration) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{
		Key:        key,
		Payload:    payload,
		DurationMs: execDuration.Milliseconds(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.inserts++
	return nil
}

// EvictExpired removes lapsed entries and returns how many were dropped.
func (s *MemoryStore) EvictExpired(context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k, v := range s.entries {
		if now.After(v.ExpiresAt) {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped, nil
}

// Stats returns the aggregate counters.
func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries:     int64(len(s.entries)),
		Hits:        s.hits,
		Misses:      s.misses,
		Inserts:     s.inserts,
		TimeSavedMs: s.savedMs,
	}, nil
}

// Purge drops every entry and resets the counters.
func (s *MemoryStore) Purge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.hits, s.misses, s.inserts, s.savedMs = 0, 0, 0, 0
	return nil
}

// Ping always succeeds for the in-process backend.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the background sweep goroutine.
func (s *MemoryStore) Close() error {
	close(s.done)
	return nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.EvictExpired(context.Background())
		}
	}
}
