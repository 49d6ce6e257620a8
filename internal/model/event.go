package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of a progress event.
type EventType string

const (
	// Run lifecycle events.
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventRunCancelled EventType = "run_cancelled"

	// Per-agent events.
	EventAgentStarted   EventType = "agent_started"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentFailed    EventType = "agent_failed"
)

// ProgressEvent is one best-effort progress notification. Delivery is
// at-most-once and in-process; the ledger is the authoritative record.
//
// Seq is a per-run sequence number assigned at publish time. Within one
// run, run_started carries the lowest Seq and the terminal run event the
// highest; an agent's started event always precedes its completed or
// failed event.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	RunID      uuid.UUID `json:"run_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Seq        int64     `json:"seq"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// RunStartedPayload is the payload for run_started events.
type RunStartedPayload struct {
	Question   string   `json:"question"`
	AgentIDs   []string `json:"agent_ids"`
	AgentCount int      `json:"agent_count"`
}

// AgentStartedPayload is the payload for agent_started events.
type AgentStartedPayload struct {
	Cached bool `json:"cached"`
}

// AgentCompletedPayload is the payload for agent_completed events.
type AgentCompletedPayload struct {
	Cached     bool   `json:"cached"`
	DurationMs int64  `json:"duration_ms"`
	Narrative  string `json:"narrative,omitempty"`
}

// AgentFailedPayload is the payload for agent_failed events.
type AgentFailedPayload struct {
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
}

// RunCompletedPayload is the payload for run_completed events. The same
// shape is reused by run_failed with a reason instead of counts.
type RunCompletedPayload struct {
	Status    RunStatus `json:"status"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Cached    int       `json:"cached"`
}

// RunFailedPayload is the payload for run_failed and run_cancelled events.
type RunFailedPayload struct {
	Status RunStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}
