package model

import (
	"fmt"
	"time"
)

// AgentDescriptor describes one analysis agent the planner can select:
// catalog metadata plus any per-run parameters the planner tuned.
type AgentDescriptor struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	// TimeoutSeconds overrides the engine's default per-agent timeout
	// when positive.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// AgentStats is the accumulated performance record for one agent id.
// Updated additively after every terminal execution; never deleted.
type AgentStats struct {
	AgentID         string     `json:"agent_id"`
	TotalRuns       int64      `json:"total_runs"`
	Succeeded       int64      `json:"succeeded"`
	Failed          int64      `json:"failed"`
	CacheHits       int64      `json:"cache_hits"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// AvgDurationMs returns the mean execution duration over non-cached
// terminal executions, or 0 when none have run.
func (s AgentStats) AvgDurationMs() int64 {
	executed := s.TotalRuns - s.CacheHits
	if executed <= 0 {
		return 0
	}
	return s.TotalDurationMs / executed
}

// SuccessRate returns the fraction of terminal executions that produced
// a payload (cache hits included), in [0, 1].
func (s AgentStats) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.Succeeded+s.CacheHits) / float64(s.TotalRuns)
}

// DatasetSummary is the structural profile of a dataset handed to the
// planner. It never contains row data, only shape.
type DatasetSummary struct {
	Digest    string          `json:"digest"`
	Name      string          `json:"name,omitempty"`
	Format    string          `json:"format"`
	SizeBytes int64           `json:"size_bytes"`
	RowCount  int64           `json:"row_count"`
	Columns   []ColumnProfile `json:"columns"`
}

// ColumnProfile describes one column of a tabular dataset.
type ColumnProfile struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	NullCount int64  `json:"null_count,omitempty"`
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
