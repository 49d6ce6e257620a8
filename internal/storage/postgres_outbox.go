package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/hirameki/internal/model"
)

// SetRunEmbedding stores the report embedding used by the insight index.
func (db *Postgres) SetRunEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set run embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnqueueIndex adds a run to the insight-index outbox.
func (db *Postgres) EnqueueIndex(ctx context.Context, runID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO index_outbox (run_id) VALUES ($1)`, runID)
	if err != nil {
		return fmt.Errorf("storage: enqueue index: %w", err)
	}
	return nil
}

// maxIndexAttempts is the dead-letter threshold for outbox tasks.
const maxIndexAttempts = 10

// DequeueIndex claims up to limit unlocked tasks. Claimed tasks are
// locked for 60 seconds, which exceeds the worker's batch timeout so a
// second worker never picks up tasks still being processed.
func (db *Postgres) DequeueIndex(ctx context.Context, limit int) ([]IndexTask, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin dequeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, run_id, attempts
		 FROM index_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxIndexAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select outbox tasks: %w", err)
	}

	var tasks []IndexTask
	for rows.Next() {
		var t IndexTask
		if err := rows.Scan(&t.ID, &t.RunID, &t.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read outbox tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE index_outbox SET locked_until = now() + interval '60 seconds' WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return nil, fmt.Errorf("storage: lock outbox tasks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit dequeue: %w", err)
	}
	return tasks, nil
}

// CompleteIndex removes successfully indexed tasks.
func (db *Postgres) CompleteIndex(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM index_outbox WHERE id = ANY($1)`, ids,
	); err != nil {
		return fmt.Errorf("storage: complete index tasks: %w", err)
	}
	return nil
}

// FailIndex records a failed attempt with exponential backoff, capped
// at five minutes so an index outage never turns into a tight retry
// loop.
func (db *Postgres) FailIndex(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`UPDATE index_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		return fmt.Errorf("storage: fail index tasks: %w", err)
	}
	return nil
}

// PendingIndexCount reports how many outbox tasks are still retryable.
func (db *Postgres) PendingIndexCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM index_outbox WHERE attempts < $1`, maxIndexAttempts,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count outbox tasks: %w", err)
	}
	return count, nil
}

// PruneDeadIndexTasks deletes tasks past the retry limit that are older
// than seven days.
func (db *Postgres) PruneDeadIndexTasks(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM index_outbox
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		maxIndexAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune outbox tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunsForIndex hydrates index points for completed runs with embeddings.
func (db *Postgres) RunsForIndex(ctx context.Context, ids []uuid.UUID) ([]RunForIndex, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, question, report, completed_at, embedding
		 FROM runs
		 WHERE id = ANY($1) AND embedding IS NOT NULL AND completed_at IS NOT NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query runs for index: %w", err)
	}
	defer rows.Close()

	var results []RunForIndex
	for rows.Next() {
		var (
			r          RunForIndex
			reportJSON []byte
			vec        pgvector.Vector
		)
		if err := rows.Scan(&r.RunID, &r.Question, &reportJSON, &r.CompletedAt, &vec); err != nil {
			return nil, fmt.Errorf("storage: scan run for index: %w", err)
		}
		r.Embedding = vec.Slice()
		r.Summary = reportSummaryText(reportJSON)
		results = append(results, r)
	}
	return results, rows.Err()
}

// reportSummaryText extracts the first insight narrative from a stored
// report, used as the search snippet. Empty on malformed or empty
// reports.
func reportSummaryText(reportJSON []byte) string {
	if len(reportJSON) == 0 {
		return ""
	}
	var rep model.Report
	if err := json.Unmarshal(reportJSON, &rep); err != nil {
		return ""
	}
	for _, insight := range rep.Insights {
		if insight.Payload.Narrative != "" {
			return insight.Payload.Narrative
		}
	}
	return ""
}
