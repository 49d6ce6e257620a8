package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/model"
)

// CreateRun inserts a new run in the planning state.
func (s *SQLite) CreateRun(ctx context.Context, run model.Run) error {
	agentIDs, err := json.Marshal(run.AgentIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal agent ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset_digest, dataset_ref, question, agent_ids, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.DatasetDigest, run.DatasetRef, run.Question,
		string(agentIDs), string(run.Status), unixMs(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLite) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String())
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRecentRuns returns runs ordered by creation time descending.
func (s *SQLite) ListRecentRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// MarkExecuting freezes the agent set and moves planning -> executing.
func (s *SQLite) MarkExecuting(ctx context.Context, id uuid.UUID, agentIDs []string) error {
	encoded, err := json.Marshal(agentIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal agent ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, agent_ids = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusExecuting), string(encoded), id.String(), string(model.RunStatusPlanning),
	)
	if err != nil {
		return fmt.Errorf("storage: mark executing: %w", err)
	}
	return checkTransition(res)
}

// MarkAggregating moves executing -> aggregating.
func (s *SQLite) MarkAggregating(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusAggregating), id.String(), string(model.RunStatusExecuting),
	)
	if err != nil {
		return fmt.Errorf("storage: mark aggregating: %w", err)
	}
	return checkTransition(res)
}

// CompleteRun moves the run to a terminal status.
func (s *SQLite) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, rep *model.Report, reason *string) error {
	if !status.Terminal() {
		return fmt.Errorf("storage: complete run with non-terminal status %q", status)
	}

	var reportJSON *string
	if rep != nil {
		encoded, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("storage: marshal report: %w", err)
		}
		str := string(encoded)
		reportJSON = &str
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, report = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(status), reportJSON, reason, unixMs(time.Now().UTC()),
		id.String(),
		string(model.RunStatusPlanning), string(model.RunStatusExecuting), string(model.RunStatusAggregating),
	)
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	return checkTransition(res)
}

// CreateExecution inserts one agent execution row.
func (s *SQLite) CreateExecution(ctx context.Context, exec model.AgentExecution) error {
	payload, err := marshalPayload(exec.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_executions (`+execColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID.String(), exec.RunID.String(), exec.AgentID, string(exec.Status), exec.Cached,
		payload, nullableString(string(exec.ErrorCategory)), nullableString(exec.ErrorMessage),
		unixMsPtr(exec.StartedAt), unixMsPtr(exec.EndedAt), exec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites the mutable fields of an execution row.
func (s *SQLite) UpdateExecution(ctx context.Context, exec model.AgentExecution) error {
	payload, err := marshalPayload(exec.Payload)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_executions
		 SET status = ?, cached = ?, payload = ?, error_category = ?,
		     error_message = ?, started_at = ?, ended_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(exec.Status), exec.Cached, payload,
		nullableString(string(exec.ErrorCategory)), nullableString(exec.ErrorMessage),
		unixMsPtr(exec.StartedAt), unixMsPtr(exec.EndedAt), exec.DurationMs, exec.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExecutionsByRun returns all executions for a run, ordered by agent id.
func (s *SQLite) ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.AgentExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+execColumns+` FROM agent_executions WHERE run_id = ? ORDER BY agent_id`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.AgentExecution
	for rows.Next() {
		exec, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// RecordAgentOutcome folds one terminal execution into agent_stats.
func (s *SQLite) RecordAgentOutcome(ctx context.Context, exec model.AgentExecution) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_stats (agent_id, total_runs, succeeded, failed, cache_hits, total_duration_ms, last_run_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   total_runs = total_runs + 1,
		   succeeded = succeeded + excluded.succeeded,
		   failed = failed + excluded.failed,
		   cache_hits = cache_hits + excluded.cache_hits,
		   total_duration_ms = total_duration_ms + excluded.total_duration_ms,
		   last_run_at = excluded.last_run_at`,
		exec.AgentID, succeeded, failed, cacheHits, exec.DurationMs, unixMs(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("storage: record agent outcome: %w", err)
	}
	return nil
}

// ListAgentStats returns accumulated statistics for every agent.
func (s *SQLite) ListAgentStats(ctx context.Context) ([]model.AgentStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, total_runs, succeeded, failed, cache_hits, total_duration_ms, last_run_at
		 FROM agent_stats ORDER BY agent_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent stats: %w", err)
	}
	defer rows.Close()

	var stats []model.AgentStats
	for rows.Next() {
		var (
			st        model.AgentStats
			lastRunMs sql.NullInt64
		)
		if err := rows.Scan(&st.AgentID, &st.TotalRuns, &st.Succeeded, &st.Failed,
			&st.CacheHits, &st.TotalDurationMs, &lastRunMs); err != nil {
			return nil, fmt.Errorf("storage: scan agent stats: %w", err)
		}
		st.LastRunAt = timeFromMsPtr(lastRunMs)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func checkTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanSQLiteRun(row rowScanner) (model.Run, error) {
	var (
		run         model.Run
		idStr       string
		agentIDs    string
		status      string
		reportJSON  sql.NullString
		errStr      sql.NullString
		createdMs   int64
		completedMs sql.NullInt64
	)
	if err := row.Scan(
		&idStr, &run.DatasetDigest, &run.DatasetRef, &run.Question,
		&agentIDs, &status, &errStr, &reportJSON, &createdMs, &completedMs,
	); err != nil {
		return model.Run{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = id
	run.Status = model.RunStatus(status)
	run.CreatedAt = timeFromMs(createdMs)
	run.CompletedAt = timeFromMsPtr(completedMs)
	if errStr.Valid {
		run.Error = &errStr.String
	}
	if agentIDs != "" {
		if err := json.Unmarshal([]byte(agentIDs), &run.AgentIDs); err != nil {
			return model.Run{}, fmt.Errorf("unmarshal agent ids: %w", err)
		}
	}
	if reportJSON.Valid && reportJSON.String != "" {
		var rep model.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &rep); err != nil {
			return model.Run{}, fmt.Errorf("unmarshal report: %w", err)
		}
		run.Report = &rep
	}
	return run, nil
}

func scanSQLiteExecution(row rowScanner) (model.AgentExecution, error) {
	var (
		exec        model.AgentExecution
		idStr       string
		runIDStr    string
		status      string
		payloadJSON sql.NullString
		category    sql.NullString
		message     sql.NullString
		startedMs   sql.NullInt64
		endedMs     sql.NullInt64
	)
	if err := row.Scan(
		&idStr, &runIDStr, &exec.AgentID, &status, &exec.Cached,
		&payloadJSON, &category, &message, &startedMs, &endedMs, &exec.DurationMs,
	); err != nil {
		return model.AgentExecution{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.AgentExecution{}, fmt.Errorf("parse execution id: %w", err)
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return model.AgentExecution{}, fmt.Errorf("parse run id: %w", err)
	}
	exec.ID = id
	exec.RunID = runID
	exec.Status = model.ExecutionStatus(status)
	exec.StartedAt = timeFromMsPtr(startedMs)
	exec.EndedAt = timeFromMsPtr(endedMs)
	if category.Valid {
		exec.ErrorCategory = model.FailureCategory(category.String)
	}
	if message.Valid {
		exec.ErrorMessage = message.String
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		var payload model.AgentPayload
		if err := json.Unmarshal([]byte(payloadJSON.String), &payload); err != nil {
			return model.AgentExecution{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		exec.Payload = &payload
	}
	return exec, nil
}
