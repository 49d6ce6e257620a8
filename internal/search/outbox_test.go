package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/storage"
	"github.com/ashita-ai/hirameki/migrations"
)

type fakeIndex struct {
	mu     sync.Mutex
	points []Point
	err    error
}

func (f *fakeIndex) Upsert(_ context.Context, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeIndex) upserted() []Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Point(nil), f.points...)
}

func newOutboxLedger(t *testing.T) *storage.SQLite {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := storage.NewSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })

	require.NoError(t, s.RunMigrations(ctx, migrations.SQLite()))
	return s
}

// newIndexedRun drives a run to completion, stores its embedding, and
// enqueues it for indexing.
func newIndexedRun(t *testing.T, ledger *storage.SQLite, question string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	run := model.Run{
		ID:            uuid.New(),
		DatasetDigest: "3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855b",
		Question:      question,
		AgentIDs:      []string{"summary-stats"},
		Status:        model.RunStatusPlanning,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, ledger.CreateRun(ctx, run))
	require.NoError(t, ledger.MarkExecuting(ctx, run.ID, run.AgentIDs))
	require.NoError(t, ledger.MarkAggregating(ctx, run.ID))

	rep := &model.Report{
		RunID:    run.ID,
		Question: question,
		Insights: []model.Insight{{
			AgentID: "summary-stats",
			Payload: model.AgentPayload{Narrative: "revenue averages 48.2 per row"},
		}},
		Summary:     model.ReportSummary{Succeeded: 1},
		GeneratedAt: time.Now().UTC(),
	}
	require.NoError(t, ledger.CompleteRun(ctx, run.ID, model.RunStatusCompleted, rep, nil))
	require.NoError(t, ledger.SetRunEmbedding(ctx, run.ID, []float32{0.1, 0.2, 0.3}))
	require.NoError(t, ledger.EnqueueIndex(ctx, run.ID))
	return run.ID
}

func newTestWorker(ledger *storage.SQLite, index Index) *OutboxWorker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOutboxWorker(ledger, index, logger, 10*time.Millisecond, 16)
}

func TestOutboxWorkerProcessBatch(t *testing.T) {
	ledger := newOutboxLedger(t)
	index := &fakeIndex{}
	w := newTestWorker(ledger, index)
	ctx := context.Background()

	id1 := newIndexedRun(t, ledger, "what drives churn?")
	id2 := newIndexedRun(t, ledger, "seasonal trends")

	w.processBatch(ctx)

	points := index.upserted()
	require.Len(t, points, 2)
	got := map[uuid.UUID]Point{points[0].RunID: points[0], points[1].RunID: points[1]}
	require.Contains(t, got, id1)
	require.Contains(t, got, id2)
	assert.Equal(t, "what drives churn?", got[id1].Question)
	assert.Equal(t, "revenue averages 48.2 per row", got[id1].Snippet)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got[id1].Embedding)
	assert.False(t, got[id1].CompletedAt.IsZero())

	// Both tasks are gone from the outbox.
	count, err := ledger.PendingIndexCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOutboxWorkerClearsRunsWithoutEmbedding(t *testing.T) {
	ledger := newOutboxLedger(t)
	index := &fakeIndex{}
	w := newTestWorker(ledger, index)
	ctx := context.Background()

	// Enqueue a run that never got an embedding.
	run := model.Run{
		ID:            uuid.New(),
		DatasetDigest: "3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855b",
		Question:      "orphaned",
		Status:        model.RunStatusPlanning,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, ledger.CreateRun(ctx, run))
	require.NoError(t, ledger.EnqueueIndex(ctx, run.ID))

	w.processBatch(ctx)

	assert.Empty(t, index.upserted())
	count, err := ledger.PendingIndexCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOutboxWorkerBacksOffOnUpsertFailure(t *testing.T) {
	ledger := newOutboxLedger(t)
	index := &fakeIndex{err: errors.New("qdrant down")}
	w := newTestWorker(ledger, index)
	ctx := context.Background()

	newIndexedRun(t, ledger, "what drives churn?")

	w.processBatch(ctx)

	// The task survives for retry but is locked into the future.
	count, err := ledger.PendingIndexCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	tasks, err := ledger.DequeueIndex(ctx, 16)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestOutboxWorkerStartDrain(t *testing.T) {
	ledger := newOutboxLedger(t)
	index := &fakeIndex{}
	w := newTestWorker(ledger, index)

	newIndexedRun(t, ledger, "what drives churn?")

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		return len(index.upserted()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)
}

func TestOutboxWorkerDrainWithoutStart(t *testing.T) {
	ledger := newOutboxLedger(t)
	w := newTestWorker(ledger, &fakeIndex{})

	// Drain before Start has nothing to wait on and must not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Drain(ctx)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "lon", truncate("longer", 3))
	// Never cuts through a multi-byte rune.
	assert.Equal(t, "né", truncate("née", 3))
}
