package client

import (
	"time"

	"github.com/google/uuid"
)

// Run is a single analysis run as reported by the server.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	DatasetDigest string     `json:"dataset_digest"`
	DatasetRef    string     `json:"dataset_ref"`
	Question      string     `json:"question"`
	AgentIDs      []string   `json:"agent_ids"`
	Status        string     `json:"status"`
	Error         *string    `json:"error,omitempty"`
	Report        *Report    `json:"report,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has reached a final state.
func (r Run) Terminal() bool {
	switch r.Status {
	case "completed", "partially_failed", "failed", "cancelled":
		return true
	}
	return false
}

// RunDetail pairs a run with its per-agent executions.
type RunDetail struct {
	Run        Run              `json:"run"`
	Executions []AgentExecution `json:"executions"`
}

// AgentExecution is one agent's slice of a run.
type AgentExecution struct {
	ID            uuid.UUID       `json:"id"`
	RunID         uuid.UUID       `json:"run_id"`
	AgentID       string          `json:"agent_id"`
	Status        string          `json:"status"`
	Cached        bool            `json:"cached"`
	Payload       *AgentPayload   `json:"payload,omitempty"`
	ErrorCategory string          `json:"error_category,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
}

// AgentPayload is the structured result an agent produced.
type AgentPayload struct {
	Narrative string         `json:"narrative"`
	Data      map[string]any `json:"data,omitempty"`
}

// Report aggregates one run's agent results.
type Report struct {
	RunID       uuid.UUID       `json:"run_id"`
	Question    string          `json:"question"`
	Insights    []Insight       `json:"insights"`
	Failures    []ReportFailure `json:"failures"`
	Summary     ReportSummary   `json:"summary"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Insight is one agent's contribution to a report.
type Insight struct {
	AgentID    string       `json:"agent_id"`
	Cached     bool         `json:"cached"`
	Payload    AgentPayload `json:"payload"`
	DurationMs int64        `json:"duration_ms"`
}

// ReportFailure records an agent that did not produce a result.
type ReportFailure struct {
	AgentID  string `json:"agent_id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ReportSummary is the roll-up at the top of a report.
type ReportSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
}

// AgentDescriptor describes one catalog agent selected by a plan.
type AgentDescriptor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// Plan is a dry-run preview of which agents a submission would execute.
type Plan struct {
	DatasetDigest string            `json:"dataset_digest"`
	Agents        []AgentDescriptor `json:"agents"`
}

// DatasetSummary is the profile the server derives from an uploaded dataset.
type DatasetSummary struct {
	Digest    string          `json:"digest"`
	Name      string          `json:"name,omitempty"`
	Format    string          `json:"format"`
	SizeBytes int64           `json:"size_bytes"`
	RowCount  int64           `json:"row_count"`
	Columns   []ColumnProfile `json:"columns"`
}

// ColumnProfile describes one column of a profiled dataset.
type ColumnProfile struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	NullCount int64  `json:"null_count,omitempty"`
}

// DatasetUpload is the server's answer to a dataset upload.
type DatasetUpload struct {
	Digest  string         `json:"digest"`
	Summary DatasetSummary `json:"summary"`
}

// SubmitRunRequest starts an analysis run.
type SubmitRunRequest struct {
	DatasetRef string   `json:"dataset_ref"`
	Question   string   `json:"question"`
	AgentIDs   []string `json:"agent_ids,omitempty"`
}

// AgentStats is the accumulated performance record for one agent id.
type AgentStats struct {
	AgentID         string     `json:"agent_id"`
	TotalRuns       int64      `json:"total_runs"`
	Succeeded       int64      `json:"succeeded"`
	Failed          int64      `json:"failed"`
	CacheHits       int64      `json:"cache_hits"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// CacheStats summarizes the result memo cache.
type CacheStats struct {
	Entries     int64 `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Inserts     int64 `json:"inserts"`
	TimeSavedMs int64 `json:"time_saved_ms"`
}

// SearchResult is one hit from the insight index.
type SearchResult struct {
	RunID       string     `json:"run_id"`
	Question    string     `json:"question"`
	Snippet     string     `json:"snippet,omitempty"`
	Score       float32    `json:"score"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressEvent is one frame from the SSE progress stream.
type ProgressEvent struct {
	Type       string          `json:"type"`
	RunID      uuid.UUID       `json:"run_id"`
	AgentID    string          `json:"agent_id,omitempty"`
	Seq        int64           `json:"seq"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Health is the server's health report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Ledger  string `json:"ledger"`
	Cache   string `json:"cache"`
	Search  string `json:"search,omitempty"`
	Broker  string `json:"broker"`
	Workers int    `json:"workers"`
	Uptime  int64  `json:"uptime_seconds"`
}
