package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/fingerprint"
	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/storage"
)

func (s *Server) registerTools() {
	// hirameki_analyze — submit an analysis run.
	s.mcpServer.AddTool(
		mcplib.NewTool("hirameki_analyze",
			mcplib.WithDescription(`Run analysis agents against an uploaded dataset and get a run id back.

The run executes asynchronously. Poll hirameki_run with the returned
run_id until the status is terminal, then read the report.

dataset_ref is either the sha-256 digest of a previously uploaded
dataset or an http(s)/s3 URL the runner can fetch. Leave agents empty
to let the planner pick agents that fit the dataset's shape.`),
			mcplib.WithString("dataset_ref",
				mcplib.Description("Dataset digest (sha-256 hex) or remote URL"),
				mcplib.Required(),
			),
			mcplib.WithString("question",
				mcplib.Description("The analysis question to answer"),
				mcplib.Required(),
			),
			mcplib.WithString("agents",
				mcplib.Description("Optional comma-separated agent ids; empty lets the planner choose"),
			),
		),
		s.handleAnalyze,
	)

	// hirameki_run — fetch a run's state and report.
	s.mcpServer.AddTool(
		mcplib.NewTool("hirameki_run",
			mcplib.WithDescription(`Fetch an analysis run: its status, per-agent executions, and report once finished.

Statuses planning, executing, and aggregating mean the run is still in
flight. completed, partially_failed, failed, and cancelled are final.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("The run id returned by hirameki_analyze"),
				mcplib.Required(),
			),
		),
		s.handleRun,
	)

	// hirameki_insights — semantic search over past reports.
	s.mcpServer.AddTool(
		mcplib.NewTool("hirameki_insights",
			mcplib.WithDescription(`Search past analysis reports by semantic similarity.

Use this before submitting a new run: if a similar question was already
answered against the same data, the existing report is cheaper than a
fresh run. Results are ranked by similarity with a recency boost.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("Natural language query for the insight you are after"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleInsights,
	)
}

func (s *Server) handleAnalyze(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ref := request.GetString("dataset_ref", "")
	question := request.GetString("question", "")

	if err := model.ValidateDatasetRef(ref); err != nil {
		return errorResult(err.Error()), nil
	}
	if err := model.ValidateQuestion(question); err != nil {
		return errorResult(err.Error()), nil
	}

	var agentIDs []string
	if raw := request.GetString("agents", ""); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if err := model.ValidateAgentID(id); err != nil {
				return errorResult(err.Error()), nil
			}
			agentIDs = append(agentIDs, id)
		}
	}

	digest := ref
	var summary model.DatasetSummary
	if model.IsDatasetDigest(ref) {
		data, err := s.spool.Get(ref)
		if err != nil {
			if errors.Is(err, dataset.ErrNotFound) {
				return errorResult("dataset not found; upload it first"), nil
			}
			return errorResult(fmt.Sprintf("read dataset: %v", err)), nil
		}
		summary, err = dataset.Profile("", data)
		if err != nil {
			return errorResult(fmt.Sprintf("unparseable dataset: %v", err)), nil
		}
	} else {
		digest = fingerprint.Digest([]byte(ref))
		summary = model.DatasetSummary{Name: ref}
	}

	run, err := s.engine.Submit(ctx, orchestrator.SubmitRequest{
		DatasetDigest: digest,
		DatasetRef:    ref,
		Summary:       summary,
		Question:      question,
		AgentIDs:      agentIDs,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}

	return textResult(map[string]any{
		"run_id":    run.ID,
		"status":    run.Status,
		"agent_ids": run.AgentIDs,
	}), nil
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("run_id", "")
	id, err := uuid.Parse(raw)
	if err != nil {
		return errorResult("invalid run_id"), nil
	}

	run, err := s.ledger.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("run not found"), nil
		}
		return errorResult(fmt.Sprintf("fetch run: %v", err)), nil
	}

	execs, err := s.ledger.ListExecutionsByRun(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch executions: %v", err)), nil
	}

	return textResult(model.RunDetail{Run: run, Executions: execs}), nil
}

func (s *Server) handleInsights(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.searcher == nil || s.embedder == nil {
		return errorResult("search is not configured on this server"), nil
	}

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	limit := request.GetInt("limit", 5)

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return errorResult(fmt.Sprintf("embed query: %v", err)), nil
	}

	results, err := s.searcher.Search(ctx, emb, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.RunID)
	}
	hydrated, err := s.ledger.RunsForIndex(ctx, ids)
	if err != nil {
		return errorResult(fmt.Sprintf("hydrate results: %v", err)), nil
	}
	runs := make(map[uuid.UUID]storage.RunForIndex, len(hydrated))
	for _, run := range hydrated {
		runs[run.RunID] = run
	}

	matches := search.ReScore(results, runs, limit)
	return textResult(map[string]any{
		"results": matches,
		"total":   len(matches),
	}), nil
}
