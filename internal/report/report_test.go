package report_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/report"
)

func payload(narrative string) *model.AgentPayload {
	return &model.AgentPayload{Narrative: narrative}
}

func TestBuildMixedOutcomes(t *testing.T) {
	run := model.Run{ID: uuid.New(), Question: "what drives churn?"}
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	executions := []model.AgentExecution{
		{AgentID: "z-agent", Status: model.ExecutionStatusCompleted, Payload: payload("plain insight"), DurationMs: 1200},
		{AgentID: "a-agent", Status: model.ExecutionStatusCacheHit, Cached: true, Payload: payload("cached insight")},
		{AgentID: "m-agent", Status: model.ExecutionStatusFailed, ErrorCategory: model.FailureTimeout, ErrorMessage: "agent timed out after 5m"},
	}

	r := report.Build(run, executions, now)

	assert.Equal(t, run.ID, r.RunID)
	assert.Equal(t, "what drives churn?", r.Question)
	assert.Equal(t, now, r.GeneratedAt)

	require.Len(t, r.Insights, 2)
	assert.Equal(t, "a-agent", r.Insights[0].AgentID, "insights ordered by agent id")
	assert.True(t, r.Insights[0].Cached)
	assert.Equal(t, "z-agent", r.Insights[1].AgentID)
	assert.Equal(t, int64(1200), r.Insights[1].DurationMs)

	require.Len(t, r.Failures, 1)
	assert.Equal(t, "m-agent", r.Failures[0].AgentID)
	assert.Equal(t, model.FailureTimeout, r.Failures[0].Category)

	assert.Equal(t, model.ReportSummary{Succeeded: 2, Failed: 1, Cached: 1}, r.Summary)
}

func TestBuildIdempotent(t *testing.T) {
	run := model.Run{ID: uuid.New(), Question: "q"}
	now := time.Now().UTC()
	executions := []model.AgentExecution{
		{AgentID: "b", Status: model.ExecutionStatusCompleted, Payload: payload("x"), DurationMs: 10},
		{AgentID: "a", Status: model.ExecutionStatusFailed, ErrorCategory: model.FailureExecution, ErrorMessage: "boom"},
	}

	first := report.Build(run, executions, now)
	second := report.Build(run, executions, now)
	assert.Equal(t, first, second, "same inputs must produce the same report")
}

func TestBuildAllFailed(t *testing.T) {
	run := model.Run{ID: uuid.New(), Question: "q"}
	executions := []model.AgentExecution{
		{AgentID: "a", Status: model.ExecutionStatusFailed, ErrorCategory: model.FailureGeneration, ErrorMessage: "no code"},
		{AgentID: "b", Status: model.ExecutionStatusFailed, ErrorCategory: model.FailureExecution, ErrorMessage: "crash"},
	}

	r := report.Build(run, executions, time.Now())

	assert.Empty(t, r.Insights)
	assert.NotNil(t, r.Insights, "a failed run still has a report, just without insights")
	assert.Len(t, r.Failures, 2)
	assert.Equal(t, model.ReportSummary{Succeeded: 0, Failed: 2, Cached: 0}, r.Summary)
}

func TestBuildIgnoresNonTerminal(t *testing.T) {
	run := model.Run{ID: uuid.New()}
	executions := []model.AgentExecution{
		{AgentID: "a", Status: model.ExecutionStatusCompleted, Payload: payload("done")},
		{AgentID: "b", Status: model.ExecutionStatusPending},
		{AgentID: "c", Status: model.ExecutionStatusRunning},
	}

	r := report.Build(run, executions, time.Now())

	assert.Len(t, r.Insights, 1)
	assert.Empty(t, r.Failures)
	assert.Equal(t, 1, r.Summary.Succeeded)
}

func TestBuildNilPayload(t *testing.T) {
	// A completed execution without a payload still contributes an
	// insight with an empty narrative rather than panicking.
	run := model.Run{ID: uuid.New()}
	executions := []model.AgentExecution{
		{AgentID: "a", Status: model.ExecutionStatusCompleted},
	}

	r := report.Build(run, executions, time.Now())
	require.Len(t, r.Insights, 1)
	assert.Empty(t, r.Insights[0].Payload.Narrative)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		summary model.ReportSummary
		want    model.RunStatus
	}{
		{"all succeeded", model.ReportSummary{Succeeded: 3}, model.RunStatusCompleted},
		{"all cached", model.ReportSummary{Succeeded: 2, Cached: 2}, model.RunStatusCompleted},
		{"mixed", model.ReportSummary{Succeeded: 2, Failed: 1}, model.RunStatusPartiallyFailed},
		{"all failed", model.ReportSummary{Failed: 2}, model.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := report.Classify(model.Report{Summary: tt.summary})
			assert.Equal(t, tt.want, got)
		})
	}
}
