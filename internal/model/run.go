// Package model defines the core domain types for Hirameki.
//
// All types correspond directly to ledger tables, API payloads, and
// progress events. Types use strong typing (UUIDs, time.Time, enums)
// and avoid interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusPlanning        RunStatus = "planning"
	RunStatusExecuting       RunStatus = "executing"
	RunStatusAggregating     RunStatus = "aggregating"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusPartiallyFailed RunStatus = "partially_failed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusCancelled       RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs are never
// mutated again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// runTransitions encodes the forward-only run state machine.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPlanning:    {RunStatusExecuting, RunStatusFailed, RunStatusCancelled},
	RunStatusExecuting:   {RunStatusAggregating, RunStatusCancelled},
	RunStatusAggregating: {RunStatusCompleted, RunStatusPartiallyFailed, RunStatusFailed},
}

// CanTransition reports whether moving from s to next is a legal step of
// the run state machine.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Run is one analysis request: a dataset, a question, and the set of
// agents chosen to answer it. Mutated only by the engine; retained
// indefinitely in the ledger.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	DatasetDigest string     `json:"dataset_digest"`
	DatasetRef    string     `json:"dataset_ref"`
	Question      string     `json:"question"`
	AgentIDs      []string   `json:"agent_ids"`
	Status        RunStatus  `json:"status"`
	Error         *string    `json:"error,omitempty"`
	Report        *Report    `json:"report,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// DatasetRef identifies the dataset an agent runs against: the digest
// addresses the local spool, Ref points at the original location when
// the dataset lives elsewhere.
type DatasetRef struct {
	Digest string `json:"digest"`
	Ref    string `json:"ref,omitempty"`
}

// ExecutionStatus represents the lifecycle state of a single agent
// within a run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCacheHit  ExecutionStatus = "cache_hit"
)

// Terminal reports whether the execution status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCacheHit:
		return true
	}
	return false
}

// Succeeded reports whether the execution produced a usable payload,
// either by running the agent or by a cache hit.
func (s ExecutionStatus) Succeeded() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusCacheHit
}

// FailureCategory classifies why an agent execution failed.
type FailureCategory string

const (
	FailureGeneration FailureCategory = "generation"
	FailureExecution  FailureCategory = "execution"
	FailureTimeout    FailureCategory = "timeout"
	FailureCancelled  FailureCategory = "cancelled"
)

// AgentExecution tracks one agent within one run. Exactly one exists per
// (run, agent) pair; it is immutable once terminal.
type AgentExecution struct {
	ID            uuid.UUID       `json:"id"`
	RunID         uuid.UUID       `json:"run_id"`
	AgentID       string          `json:"agent_id"`
	Status        ExecutionStatus `json:"status"`
	Cached        bool            `json:"cached"`
	Payload       *AgentPayload   `json:"payload,omitempty"`
	ErrorCategory FailureCategory `json:"error_category,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
}

// AgentPayload is the structured result an agent produces.
type AgentPayload struct {
	Narrative string         `json:"narrative"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Artifact is a reference to a non-inline result, e.g. a chart image or
// derived table kept in object storage.
type Artifact struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Ref       string `json:"ref"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}
