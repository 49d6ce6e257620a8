package model

import (
	"time"

	"github.com/google/uuid"
)

// Report is the merged output of a run. Built once during aggregation
// from the terminal executions; a report with zero insights is still a
// valid report.
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

// ReportFailure records an agent that produced no insight.
type ReportFailure struct {
	AgentID  string          `json:"agent_id"`
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
}

// ReportSummary counts execution outcomes for quick display.
type ReportSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
}
