package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hirameki/internal/storage"
	"github.com/ashita-ai/hirameki/internal/telemetry"
)

// maxOutboxAttempts mirrors the ledger's dead-letter threshold; the
// ledger stops handing out tasks at this count and the worker logs them.
const maxOutboxAttempts = 10

// snippetMaxLen bounds the payload snippet stored per point.
const snippetMaxLen = 500

// Index is the subset of QdrantIndex the outbox worker writes to.
type Index interface {
	Upsert(ctx context.Context, points []Point) error
}

// OutboxWorker polls the insight-index outbox and syncs completed runs
// into the search index.
type OutboxWorker struct {
	ledger       storage.Ledger
	index        Index
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewOutboxWorker creates a new outbox worker.
func NewOutboxWorker(ledger storage.Ledger, index Index, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	return &OutboxWorker{
		ledger:       ledger,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("index outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining tasks, and blocks
// until done or the context expires. The ctx parameter is passed to the final
// poll so it respects the caller's deadline.
func (w *OutboxWorker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("index outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context (sent by Drain via channel)
			// so the final poll respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) {
	tasks, err := w.ledger.DequeueIndex(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("index outbox: dequeue", "error", err)
		return
	}
	if len(tasks) > 0 {
		w.processTasks(ctx, tasks)
	}

	// Periodically clean up dead-letter tasks.
	if time.Since(w.lastCleanup) > time.Hour {
		w.cleanupDeadLetters(ctx)
		w.lastCleanup = time.Now()
	}
}

func (w *OutboxWorker) processTasks(ctx context.Context, tasks []storage.IndexTask) {
	runIDs := make([]uuid.UUID, len(tasks))
	for i, t := range tasks {
		runIDs[i] = t.RunID
	}

	runs, err := w.ledger.RunsForIndex(ctx, runIDs)
	if err != nil {
		w.logger.Error("index outbox: hydrate runs", "error", err, "count", len(runIDs))
		w.failTasks(ctx, tasks, err.Error())
		return
	}

	if len(runs) == 0 {
		// Every run lost its embedding or never finished. Nothing to
		// index; clear the tasks.
		w.succeedTasks(ctx, tasks)
		return
	}

	points := make([]Point, 0, len(runs))
	for _, r := range runs {
		points = append(points, Point{
			RunID:       r.RunID,
			Question:    r.Question,
			Snippet:     truncate(r.Summary, snippetMaxLen),
			CompletedAt: r.CompletedAt,
			Embedding:   r.Embedding,
		})
	}

	if err := w.index.Upsert(ctx, points); err != nil {
		w.logger.Error("index outbox: qdrant upsert", "error", err, "count", len(points))
		w.failTasks(ctx, tasks, err.Error())
		return
	}

	w.succeedTasks(ctx, tasks)
	w.logger.Info("index outbox: upserted", "count", len(points))
}

func (w *OutboxWorker) succeedTasks(ctx context.Context, tasks []storage.IndexTask) {
	if err := w.ledger.CompleteIndex(ctx, taskIDs(tasks)); err != nil {
		w.logger.Error("index outbox: complete tasks", "error", err)
	}
}

func (w *OutboxWorker) failTasks(ctx context.Context, tasks []storage.IndexTask, errMsg string) {
	if err := w.ledger.FailIndex(ctx, taskIDs(tasks), errMsg); err != nil {
		w.logger.Error("index outbox: fail tasks", "error", err)
	}

	// Log dead-letter tasks (attempts >= maxOutboxAttempts after increment).
	for _, t := range tasks {
		if t.Attempts+1 >= maxOutboxAttempts {
			w.logger.Warn("index outbox: dead-letter task",
				"outbox_id", t.ID,
				"run_id", t.RunID,
				"attempts", t.Attempts+1,
			)
		}
	}
}

func (w *OutboxWorker) cleanupDeadLetters(ctx context.Context) {
	deleted, err := w.ledger.PruneDeadIndexTasks(ctx)
	if err != nil {
		w.logger.Error("index outbox: cleanup dead-letters failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("index outbox: cleaned dead-letter tasks", "deleted", deleted)
	}
}

// registerMetrics registers observable OTEL gauges for outbox health monitoring.
func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("hirameki/outbox")

	_, _ = meter.Int64ObservableGauge("hirameki.outbox.depth",
		metric.WithDescription("Number of pending tasks in the insight-index outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count, err := w.ledger.PendingIndexCount(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}

func taskIDs(tasks []storage.IndexTask) []int64 {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// truncate cuts s at a rune boundary at or before max bytes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
