package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQdrantIndex creates a QdrantIndex connected to a local address.
// The connection may succeed (gRPC lazy connects) even if no server is running,
// but actual RPCs will fail. This is sufficient for testing early-return paths,
// error handling, and caching logic.
func newTestQdrantIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334", // Non-standard port, no server running.
		Collection: "test_insights",
		Dims:       1024,
	}, logger)
	require.NoError(t, err, "NewQdrantIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestNewQdrantIndexValid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "insights",
		Dims:       1024,
	}, logger)

	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, "insights", idx.collection)
	assert.Equal(t, uint64(1024), idx.dims)
	assert.NotNil(t, idx.client)

	_ = idx.Close()
}

func TestQdrantUpsertEmptyPoints(t *testing.T) {
	idx := newTestQdrantIndex(t)

	// Upsert with no points returns nil without calling Qdrant.
	assert.NoError(t, idx.Upsert(context.Background(), nil))
	assert.NoError(t, idx.Upsert(context.Background(), []Point{}))
}

func TestQdrantHealthErrStoreAndLoad(t *testing.T) {
	idx := newTestQdrantIndex(t)

	assert.Nil(t, idx.loadHealthErr())

	testErr := errors.New("connection refused")
	idx.storeHealthErr(testErr)
	loaded := idx.loadHealthErr()
	require.Error(t, loaded)
	assert.Equal(t, "connection refused", loaded.Error())

	idx.storeHealthErr(nil)
	assert.Nil(t, idx.loadHealthErr())
}

func TestQdrantHealthyCachesResult(t *testing.T) {
	idx := newTestQdrantIndex(t)

	// Prime the cache with a healthy result and a fresh timestamp; Healthy
	// must serve it without touching the dead server.
	idx.storeHealthErr(nil)
	idx.healthAt.Store(time.Now().UnixNano())

	assert.NoError(t, idx.Healthy(context.Background()))

	idx.storeHealthErr(errors.New("qdrant unhealthy"))
	idx.healthAt.Store(time.Now().UnixNano())

	err := idx.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}
