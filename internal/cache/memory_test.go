package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/model"
)

func newTestStore(t *testing.T, ttl time.Duration) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(ttl)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreMissThenHit(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := model.AgentPayload{Narrative: "revenue is seasonal"}
	require.NoError(t, s.Insert(ctx, "k1", payload, 1500*time.Millisecond))

	entry, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "revenue is seasonal", entry.Payload.Narrative)
	assert.Equal(t, int64(1500), entry.DurationMs)
	assert.Equal(t, int64(1), entry.AccessCount)

	entry, ok, err = s.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.AccessCount)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := newTestStore(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "k1", model.AgentPayload{Narrative: "x"}, time.Second))

	_, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	// Expired entries are invisible even before the sweep runs.
	_, ok, err = s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreEvictExpired(t *testing.T) {
	s := newTestStore(t, 10*time.Millisecond)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Insert(ctx, k, model.AgentPayload{Narrative: k}, time.Second))
	}
	time.Sleep(20 * time.Millisecond)

	dropped, err := s.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "k1", model.AgentPayload{Narrative: "old"}, time.Second))
	require.NoError(t, s.Insert(ctx, "k1", model.AgentPayload{Narrative: "new"}, 2*time.Second))

	entry, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", entry.Payload.Narrative)
	assert.Equal(t, int64(2000), entry.DurationMs)
	assert.Equal(t, int64(1), entry.AccessCount, "overwrite resets access count")
}

func TestMemoryStoreStats(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "k1", model.AgentPayload{Narrative: "x"}, 2*time.Second))

	_, _, _ = s.Lookup(ctx, "k1")    // hit, saves 2000ms
	_, _, _ = s.Lookup(ctx, "k1")    // hit, saves 2000ms
	_, _, _ = s.Lookup(ctx, "other") // miss

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Inserts)
	assert.Equal(t, int64(4000), stats.TimeSavedMs)
}

func TestMemoryStorePurge(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "k1", model.AgentPayload{Narrative: "x"}, time.Second))
	_, _, _ = s.Lookup(ctx, "k1")

	require.NoError(t, s.Purge(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	_, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Insert(ctx, "shared", model.AgentPayload{Narrative: "x"}, time.Second)
				_, _, _ = s.Lookup(ctx, "shared")
			}
		}()
	}
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(800), stats.Hits+stats.Misses)
}
