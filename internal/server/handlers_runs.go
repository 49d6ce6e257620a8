package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/fingerprint"
	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/storage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// HandleUploadDataset spools raw dataset bytes and returns their
// digest and profile.
// POST /v1/datasets
func (h *Handlers) HandleUploadDataset(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxDatasetBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "dataset too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}
	if len(data) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "dataset body is empty")
		return
	}

	name := r.URL.Query().Get("name")
	summary, err := dataset.Profile(name, data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unparseable dataset: "+err.Error())
		return
	}

	digest, err := h.spool.Put(data)
	if err != nil {
		h.logger.Error("dataset spool failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store dataset")
		return
	}

	writeJSON(w, r, http.StatusCreated, model.DatasetUploadResponse{Digest: digest, Summary: summary})
}

// HandlePlan previews the agent set for a question without starting a
// run.
// POST /v1/plan
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	var req model.PlanRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateDatasetRef(req.DatasetRef); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateQuestion(req.Question); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	digest, summary, ok := h.resolveDataset(w, r, req.DatasetRef)
	if !ok {
		return
	}

	agents, err := h.planner.Plan(r.Context(), summary, req.Question)
	if err != nil {
		h.logger.Error("plan preview failed", "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, "planning failed: "+err.Error())
		return
	}
	if agents == nil {
		agents = []model.AgentDescriptor{}
	}

	writeJSON(w, r, http.StatusOK, model.PlanResponse{DatasetDigest: digest, Agents: agents})
}

// HandleSubmitRun accepts a run and starts it asynchronously.
// POST /v1/runs
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRunRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	digest, summary, ok := h.resolveDataset(w, r, req.DatasetRef)
	if !ok {
		return
	}

	run, err := h.engine.Submit(r.Context(), orchestrator.SubmitRequest{
		DatasetDigest: digest,
		DatasetRef:    req.DatasetRef,
		Summary:       summary,
		Question:      req.Question,
		AgentIDs:      req.AgentIDs,
	})
	if err != nil {
		h.logger.Error("run submission failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to submit run")
		return
	}

	writeJSON(w, r, http.StatusAccepted, run)
}

// HandleGetRun returns a run with its per-agent executions.
// GET /v1/runs/{run_id}
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	run, err := h.ledger.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.logger.Error("run fetch failed", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to fetch run")
		return
	}

	execs, err := h.ledger.ListExecutionsByRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("execution list failed", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to fetch executions")
		return
	}
	if execs == nil {
		execs = []model.AgentExecution{}
	}

	writeJSON(w, r, http.StatusOK, model.RunDetail{Run: run, Executions: execs})
}

// HandleListRuns lists runs newest first.
// GET /v1/runs
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	runs, total, err := h.ledger.ListRecentRuns(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("run list failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}

	writeList(w, r, runs, offset+len(runs) < total, limit, offset)
}

// HandleCancelRun requests cooperative cancellation of a live run.
// POST /v1/runs/{run_id}/cancel
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	err := h.engine.Cancel(r.Context(), runID)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, map[string]any{
			"run_id": runID,
			"status": model.RunStatusCancelled,
		})
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
	case errors.Is(err, orchestrator.ErrNotCancellable):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		h.logger.Error("run cancel failed", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to cancel run")
	}
}

// HandleGetReport returns the aggregated report for a finished run.
// GET /v1/runs/{run_id}/report
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	run, err := h.ledger.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.logger.Error("run fetch failed", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to fetch run")
		return
	}

	if !run.Status.Terminal() {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "run has not finished")
		return
	}
	if run.Report == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run produced no report")
		return
	}

	writeJSON(w, r, http.StatusOK, run.Report)
}

// HandleAgentStats returns accumulated per-agent execution statistics.
// GET /v1/agents/stats
func (h *Handlers) HandleAgentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.ListAgentStats(r.Context())
	if err != nil {
		h.logger.Error("agent stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to fetch agent stats")
		return
	}
	if stats == nil {
		stats = []model.AgentStats{}
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleCacheStats returns result cache effectiveness counters.
// GET /v1/cache/stats
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("cache stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to fetch cache stats")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleCachePurge drops every cached result.
// POST /v1/cache/purge
func (h *Handlers) HandleCachePurge(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Purge(r.Context()); err != nil {
		h.logger.Error("cache purge failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to purge cache")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"purged": true})
}

// HandleSearch finds completed runs whose reports resemble the query.
// POST /v1/search
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil || h.embedder == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "search is not configured")
		return
	}

	var req model.SearchRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	emb, err := h.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("query embedding failed", "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, "embedding provider unavailable")
		return
	}

	results, err := h.searcher.Search(r.Context(), emb, limit)
	if err != nil {
		h.logger.Error("index search failed", "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, "search index unavailable")
		return
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.RunID)
	}
	hydrated, err := h.ledger.RunsForIndex(r.Context(), ids)
	if err != nil {
		h.logger.Error("search hydration failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to hydrate search results")
		return
	}
	runs := make(map[uuid.UUID]storage.RunForIndex, len(hydrated))
	for _, run := range hydrated {
		runs[run.RunID] = run
	}

	matches := search.ReScore(results, runs, limit)
	out := make([]model.SearchResult, 0, len(matches))
	for _, m := range matches {
		completedAt := m.CompletedAt
		out = append(out, model.SearchResult{
			RunID:       m.RunID.String(),
			Question:    m.Question,
			Snippet:     m.Summary,
			Score:       m.Score,
			CompletedAt: &completedAt,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// resolveDataset turns a dataset reference into a digest and profile.
// Spooled digests are profiled from their bytes; remote references get
// a digest derived from the reference itself and an empty profile,
// leaving retrieval to the runner.
func (h *Handlers) resolveDataset(w http.ResponseWriter, r *http.Request, ref string) (string, model.DatasetSummary, bool) {
	if !model.IsDatasetDigest(ref) {
		return fingerprint.Digest([]byte(ref)), model.DatasetSummary{Name: ref}, true
	}

	data, err := h.spool.Get(ref)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "dataset not found; upload it first")
			return "", model.DatasetSummary{}, false
		}
		h.logger.Error("dataset read failed", "digest", ref, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to read dataset")
		return "", model.DatasetSummary{}, false
	}

	summary, err := dataset.Profile("", data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unparseable dataset: "+err.Error())
		return "", model.DatasetSummary{}, false
	}
	return ref, summary, true
}
