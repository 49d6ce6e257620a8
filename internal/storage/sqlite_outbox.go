package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SetRunEmbedding stores the report embedding as a JSON float array.
func (s *SQLite) SetRunEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("storage: marshal embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET embedding = ? WHERE id = ?`,
		string(encoded), id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: set run embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: set run embedding: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnqueueIndex adds a run to the insight-index outbox.
func (s *SQLite) EnqueueIndex(ctx context.Context, runID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_outbox (run_id, created_at) VALUES (?, ?)`,
		runID.String(), unixMs(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue index: %w", err)
	}
	return nil
}

// DequeueIndex claims up to limit unlocked tasks. The single-connection
// pool serialises the select-then-lock, so no row locking is needed.
func (s *SQLite) DequeueIndex(ctx context.Context, limit int) ([]IndexTask, error) {
	now := unixMs(time.Now().UTC())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, attempts
		 FROM index_outbox
		 WHERE (locked_until IS NULL OR locked_until < ?)
		   AND attempts < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		now, maxIndexAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select outbox tasks: %w", err)
	}

	var tasks []IndexTask
	for rows.Next() {
		var (
			t        IndexTask
			runIDStr string
		)
		if err := rows.Scan(&t.ID, &runIDStr, &t.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan outbox task: %w", err)
		}
		runID, err := uuid.Parse(runIDStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: parse outbox run id: %w", err)
		}
		t.RunID = runID
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read outbox tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	lockedUntil := unixMs(time.Now().UTC().Add(60 * time.Second))
	query, args := expandInt64In(
		`UPDATE index_outbox SET locked_until = ? WHERE id IN (%s)`,
		[]any{lockedUntil}, taskIDs(tasks))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("storage: lock outbox tasks: %w", err)
	}
	return tasks, nil
}

// CompleteIndex removes successfully indexed tasks.
func (s *SQLite) CompleteIndex(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := expandInt64In(`DELETE FROM index_outbox WHERE id IN (%s)`, nil, ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: complete index tasks: %w", err)
	}
	return nil
}

// FailIndex records a failed attempt with capped exponential backoff.
func (s *SQLite) FailIndex(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := expandInt64In(
		`UPDATE index_outbox
		 SET attempts = attempts + 1,
		     last_error = ?,
		     locked_until = ? + CAST(MIN(POWER(2, attempts + 1), 300) * 1000 AS INTEGER)
		 WHERE id IN (%s)`,
		[]any{errMsg, unixMs(time.Now().UTC())}, ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: fail index tasks: %w", err)
	}
	return nil
}

// PendingIndexCount reports how many outbox tasks are still retryable.
func (s *SQLite) PendingIndexCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_outbox WHERE attempts < ?`, maxIndexAttempts,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count outbox tasks: %w", err)
	}
	return count, nil
}

// PruneDeadIndexTasks deletes tasks past the retry limit that are older
// than seven days.
func (s *SQLite) PruneDeadIndexTasks(ctx context.Context) (int64, error) {
	cutoff := unixMs(time.Now().UTC().Add(-7 * 24 * time.Hour))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_outbox WHERE attempts >= ? AND created_at < ?`,
		maxIndexAttempts, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune outbox tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: prune outbox tasks: %w", err)
	}
	return n, nil
}

// RunsForIndex hydrates index points for completed runs with embeddings.
func (s *SQLite) RunsForIndex(ctx context.Context, ids []uuid.UUID) ([]RunForIndex, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, report, completed_at, embedding
		 FROM runs
		 WHERE id IN (`+placeholders+`) AND embedding IS NOT NULL AND completed_at IS NOT NULL`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query runs for index: %w", err)
	}
	defer rows.Close()

	var results []RunForIndex
	for rows.Next() {
		var (
			r            RunForIndex
			idStr        string
			reportJSON   sql.NullString
			completedMs  int64
			embeddingRaw string
		)
		if err := rows.Scan(&idStr, &r.Question, &reportJSON, &completedMs, &embeddingRaw); err != nil {
			return nil, fmt.Errorf("storage: scan run for index: %w", err)
		}
		runID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: parse run id: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingRaw), &r.Embedding); err != nil {
			return nil, fmt.Errorf("storage: unmarshal embedding: %w", err)
		}
		r.RunID = runID
		r.CompletedAt = timeFromMs(completedMs)
		r.Summary = reportSummaryText([]byte(reportJSON.String))
		results = append(results, r)
	}
	return results, rows.Err()
}

func taskIDs(tasks []IndexTask) []int64 {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// expandInt64In substitutes %s in query with one placeholder per id and
// appends the ids to the leading args. SQLite has no array parameters.
func expandInt64In(query string, leading []any, ids []int64) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(leading)+len(ids))
	args = append(args, leading...)
	for _, id := range ids {
		args = append(args, id)
	}
	return fmt.Sprintf(query, placeholders), args
}
