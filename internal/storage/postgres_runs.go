package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hirameki/internal/model"
)

// CreateRun inserts a new run in the planning state.
func (db *Postgres) CreateRun(ctx context.Context, run model.Run) error {
	agentIDs, err := json.Marshal(run.AgentIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal agent ids: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO runs (id, dataset_digest, dataset_ref, question, agent_ids, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
		run.ID, run.DatasetDigest, run.DatasetRef, run.Question,
		string(agentIDs), string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

const runColumns = `id, dataset_digest, dataset_ref, question, agent_ids, status, error, report, created_at, completed_at`

// GetRun retrieves a run by ID.
func (db *Postgres) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRecentRuns returns runs ordered by creation time descending.
func (db *Postgres) ListRecentRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// MarkExecuting freezes the agent set and moves planning -> executing.
func (db *Postgres) MarkExecuting(ctx context.Context, id uuid.UUID, agentIDs []string) error {
	encoded, err := json.Marshal(agentIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal agent ids: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, agent_ids = $2::jsonb WHERE id = $3 AND status = $4`,
		string(model.RunStatusExecuting), string(encoded), id, string(model.RunStatusPlanning),
	)
	if err != nil {
		return fmt.Errorf("storage: mark executing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkAggregating moves executing -> aggregating.
func (db *Postgres) MarkAggregating(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.RunStatusAggregating), id, string(model.RunStatusExecuting),
	)
	if err != nil {
		return fmt.Errorf("storage: mark aggregating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompleteRun moves the run to a terminal status, storing the report
// when present. Guarded against terminal states so a cancel racing a
// normal completion settles exactly one way.
func (db *Postgres) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, rep *model.Report, reason *string) error {
	if !status.Terminal() {
		return fmt.Errorf("storage: complete run with non-terminal status %q", status)
	}

	var reportJSON *string
	if rep != nil {
		encoded, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("storage: marshal report: %w", err)
		}
		s := string(encoded)
		reportJSON = &s
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, report = $2::jsonb, error = $3, completed_at = $4
		 WHERE id = $5 AND status IN ($6, $7, $8)`,
		string(status), reportJSON, reason, time.Now().UTC(), id,
		string(model.RunStatusPlanning), string(model.RunStatusExecuting), string(model.RunStatusAggregating),
	)
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

const execColumns = `id, run_id, agent_id, status, cached, payload, error_category, error_message, started_at, ended_at, duration_ms`

// CreateExecution inserts one agent execution row.
func (db *Postgres) CreateExecution(ctx context.Context, exec model.AgentExecution) error {
	payload, err := marshalPayload(exec.Payload)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO agent_executions (`+execColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)`,
		exec.ID, exec.RunID, exec.AgentID, string(exec.Status), exec.Cached,
		payload, nullableString(string(exec.ErrorCategory)), nullableString(exec.ErrorMessage),
		exec.StartedAt, exec.EndedAt, exec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites the mutable fields of an execution row.
func (db *Postgres) UpdateExecution(ctx context.Context, exec model.AgentExecution) error {
	payload, err := marshalPayload(exec.Payload)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_executions
		 SET status = $1, cached = $2, payload = $3::jsonb, error_category = $4,
		     error_message = $5, started_at = $6, ended_at = $7, duration_ms = $8
		 WHERE id = $9`,
		string(exec.Status), exec.Cached, payload,
		nullableString(string(exec.ErrorCategory)), nullableString(exec.ErrorMessage),
		exec.StartedAt, exec.EndedAt, exec.DurationMs, exec.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExecutionsByRun returns all executions for a run, ordered by agent id.
func (db *Postgres) ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.AgentExecution, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+execColumns+` FROM agent_executions WHERE run_id = $1 ORDER BY agent_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.AgentExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// RecordAgentOutcome folds one terminal execution into agent_stats.
func (db *Postgres) RecordAgentOutcome(ctx context.Context, exec model.AgentExecution) error {
	var succeeded, failed, cacheHits int64
	switch exec.Status {
	case model.ExecutionStatusCompleted:
		succeeded = 1
	case model.ExecutionStatusFailed:
		failed = 1
	case model.ExecutionStatusCacheHit:
		cacheHits = 1
	default:
		return fmt.Errorf("storage: record outcome for non-terminal execution %q", exec.Status)
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_stats (agent_id, total_runs, succeeded, failed, cache_hits, total_duration_ms, last_run_at)
		 VALUES ($1, 1, $2, $3, $4, $5, $6)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   total_runs = agent_stats.total_runs + 1,
		   succeeded = agent_stats.succeeded + EXCLUDED.succeeded,
		   failed = agent_stats.failed + EXCLUDED.failed,
		   cache_hits = agent_stats.cache_hits + EXCLUDED.cache_hits,
		   total_duration_ms = agent_stats.total_duration_ms + EXCLUDED.total_duration_ms,
		   last_run_at = EXCLUDED.last_run_at`,
		exec.AgentID, succeeded, failed, cacheHits, exec.DurationMs, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: record agent outcome: %w", err)
	}
	return nil
}

// ListAgentStats returns accumulated statistics for every agent.
func (db *Postgres) ListAgentStats(ctx context.Context) ([]model.AgentStats, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, total_runs, succeeded, failed, cache_hits, total_duration_ms, last_run_at
		 FROM agent_stats ORDER BY agent_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent stats: %w", err)
	}
	defer rows.Close()

	var stats []model.AgentStats
	for rows.Next() {
		var s model.AgentStats
		if err := rows.Scan(&s.AgentID, &s.TotalRuns, &s.Succeeded, &s.Failed,
			&s.CacheHits, &s.TotalDurationMs, &s.LastRunAt); err != nil {
			return nil, fmt.Errorf("storage: scan agent stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// rowScanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var (
		run        model.Run
		agentIDs   []byte
		reportJSON []byte
		status     string
	)
	if err := row.Scan(
		&run.ID, &run.DatasetDigest, &run.DatasetRef, &run.Question,
		&agentIDs, &status, &run.Error, &reportJSON, &run.CreatedAt, &run.CompletedAt,
	); err != nil {
		return model.Run{}, err
	}
	run.Status = model.RunStatus(status)
	if len(agentIDs) > 0 {
		if err := json.Unmarshal(agentIDs, &run.AgentIDs); err != nil {
			return model.Run{}, fmt.Errorf("unmarshal agent ids: %w", err)
		}
	}
	if len(reportJSON) > 0 {
		var rep model.Report
		if err := json.Unmarshal(reportJSON, &rep); err != nil {
			return model.Run{}, fmt.Errorf("unmarshal report: %w", err)
		}
		run.Report = &rep
	}
	return run, nil
}

func scanExecution(row rowScanner) (model.AgentExecution, error) {
	var (
		exec        model.AgentExecution
		status      string
		payloadJSON []byte
		category    *string
		message     *string
	)
	if err := row.Scan(
		&exec.ID, &exec.RunID, &exec.AgentID, &status, &exec.Cached,
		&payloadJSON, &category, &message, &exec.StartedAt, &exec.EndedAt, &exec.DurationMs,
	); err != nil {
		return model.AgentExecution{}, err
	}
	exec.Status = model.ExecutionStatus(status)
	if category != nil {
		exec.ErrorCategory = model.FailureCategory(*category)
	}
	if message != nil {
		exec.ErrorMessage = *message
	}
	if len(payloadJSON) > 0 {
		var payload model.AgentPayload
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return model.AgentExecution{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		exec.Payload = &payload
	}
	return exec, nil
}

func marshalPayload(payload *model.AgentPayload) (*string, error) {
	if payload == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal payload: %w", err)
	}
	s := string(encoded)
	return &s, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
