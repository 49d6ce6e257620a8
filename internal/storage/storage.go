// Package storage implements the run ledger: the durable record of
// runs, per-agent executions, and rolling agent statistics.
//
// Two backends implement the Ledger interface: Postgres (pgx pool,
// pgvector for the insight index) and embedded SQLite (zero-config
// default). The engine is the only writer; the HTTP layer, the MCP
// surface, and the index worker read through the same interface.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidTransition is returned when a status update would move a
// run backward, e.g. completing a run that is already terminal. Every
// guarded UPDATE carries its expected current status, so a lost race
// surfaces here instead of corrupting the ledger.
var ErrInvalidTransition = errors.New("storage: invalid status transition")

// IndexTask is one pending entry of the insight-index outbox. Tasks are
// enqueued when a run completes with an embedding and drained by the
// search index worker.
type IndexTask struct {
	ID       int64
	RunID    uuid.UUID
	Attempts int
}

// RunForIndex carries the fields the index worker needs to build one
// search point.
type RunForIndex struct {
	RunID       uuid.UUID
	Question    string
	Summary     string
	CompletedAt time.Time
	Embedding   []float32
}

// Ledger is the durable run record. Implementations must be safe for
// concurrent use; the engine settles many agents in parallel and every
// settlement writes here before its progress event is published.
type Ledger interface {
	// CreateRun inserts a new run in the planning state.
	CreateRun(ctx context.Context, run model.Run) error

	// GetRun returns one run, or ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)

	// ListRecentRuns returns runs ordered newest first plus the total
	// count for pagination.
	ListRecentRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error)

	// MarkExecuting freezes the agent set and moves the run from
	// planning to executing. ErrInvalidTransition if the run is no
	// longer in planning.
	MarkExecuting(ctx context.Context, id uuid.UUID, agentIDs []string) error

	// MarkAggregating moves the run from executing to aggregating.
	MarkAggregating(ctx context.Context, id uuid.UUID) error

	// CompleteRun moves the run to a terminal status. For
	// completed/partially_failed/failed-after-aggregation the report
	// is stored; planning failures and cancellations pass a nil report
	// and a reason. ErrInvalidTransition if the run is already
	// terminal.
	CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, report *model.Report, reason *string) error

	// CreateExecution inserts one agent execution. At most one row
	// exists per (run, agent) pair.
	CreateExecution(ctx context.Context, exec model.AgentExecution) error

	// UpdateExecution overwrites the mutable fields of an execution.
	UpdateExecution(ctx context.Context, exec model.AgentExecution) error

	// ListExecutionsByRun returns a run's executions ordered by agent id.
	ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.AgentExecution, error)

	// RecordAgentOutcome additively folds one terminal execution into
	// the agent's rolling statistics.
	RecordAgentOutcome(ctx context.Context, exec model.AgentExecution) error

	// ListAgentStats returns the accumulated statistics for every
	// agent that has ever run, ordered by agent id.
	ListAgentStats(ctx context.Context) ([]model.AgentStats, error)

	// SetRunEmbedding stores the report embedding for a completed run.
	SetRunEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error

	// EnqueueIndex adds a run to the insight-index outbox.
	EnqueueIndex(ctx context.Context, runID uuid.UUID) error

	// DequeueIndex claims up to limit unlocked outbox tasks and locks
	// them against concurrent workers.
	DequeueIndex(ctx context.Context, limit int) ([]IndexTask, error)

	// CompleteIndex removes successfully indexed tasks.
	CompleteIndex(ctx context.Context, ids []int64) error

	// FailIndex records a failed attempt and backs the tasks off.
	FailIndex(ctx context.Context, ids []int64, errMsg string) error

	// RunsForIndex hydrates index points for the given run ids. Runs
	// without an embedding are silently omitted.
	RunsForIndex(ctx context.Context, ids []uuid.UUID) ([]RunForIndex, error)

	// PendingIndexCount reports how many outbox tasks are still
	// retryable.
	PendingIndexCount(ctx context.Context) (int64, error)

	// PruneDeadIndexTasks deletes tasks that exhausted their retries
	// long enough ago that nobody will replay them.
	PruneDeadIndexTasks(ctx context.Context) (int64, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close(ctx context.Context)
}

var (
	_ Ledger = (*Postgres)(nil)
	_ Ledger = (*SQLite)(nil)
)
