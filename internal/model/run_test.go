package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hirameki/internal/model"
)

func TestRunStatusTerminal(t *testing.T) {
	terminal := []model.RunStatus{
		model.RunStatusCompleted,
		model.RunStatusPartiallyFailed,
		model.RunStatusFailed,
		model.RunStatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%q should be terminal", s)
	}

	live := []model.RunStatus{
		model.RunStatusPlanning,
		model.RunStatusExecuting,
		model.RunStatusAggregating,
		model.RunStatus("bogus"),
	}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%q should not be terminal", s)
	}
}

func TestRunStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from model.RunStatus
		to   model.RunStatus
		want bool
	}{
		{"planning to executing", model.RunStatusPlanning, model.RunStatusExecuting, true},
		{"planning to failed", model.RunStatusPlanning, model.RunStatusFailed, true},
		{"planning to cancelled", model.RunStatusPlanning, model.RunStatusCancelled, true},
		{"planning skips to aggregating", model.RunStatusPlanning, model.RunStatusAggregating, false},
		{"planning skips to completed", model.RunStatusPlanning, model.RunStatusCompleted, false},
		{"executing to aggregating", model.RunStatusExecuting, model.RunStatusAggregating, true},
		{"executing to cancelled", model.RunStatusExecuting, model.RunStatusCancelled, true},
		{"executing skips to completed", model.RunStatusExecuting, model.RunStatusCompleted, false},
		{"executing cannot fail directly", model.RunStatusExecuting, model.RunStatusFailed, false},
		{"aggregating to completed", model.RunStatusAggregating, model.RunStatusCompleted, true},
		{"aggregating to partially_failed", model.RunStatusAggregating, model.RunStatusPartiallyFailed, true},
		{"aggregating to failed", model.RunStatusAggregating, model.RunStatusFailed, true},
		{"aggregating cannot cancel", model.RunStatusAggregating, model.RunStatusCancelled, false},
		{"no backwards step", model.RunStatusExecuting, model.RunStatusPlanning, false},
		{"terminal is frozen", model.RunStatusCompleted, model.RunStatusFailed, false},
		{"cancelled is frozen", model.RunStatusCancelled, model.RunStatusExecuting, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestExecutionStatus(t *testing.T) {
	assert.True(t, model.ExecutionStatusCompleted.Terminal())
	assert.True(t, model.ExecutionStatusFailed.Terminal())
	assert.True(t, model.ExecutionStatusCacheHit.Terminal())
	assert.False(t, model.ExecutionStatusPending.Terminal())
	assert.False(t, model.ExecutionStatusRunning.Terminal())

	assert.True(t, model.ExecutionStatusCompleted.Succeeded())
	assert.True(t, model.ExecutionStatusCacheHit.Succeeded())
	assert.False(t, model.ExecutionStatusFailed.Succeeded())
	assert.False(t, model.ExecutionStatusRunning.Succeeded())
}

func TestAgentStatsDerived(t *testing.T) {
	s := model.AgentStats{
		AgentID:         "trend-detector",
		TotalRuns:       10,
		Succeeded:       6,
		Failed:          2,
		CacheHits:       2,
		TotalDurationMs: 16000,
	}
	// 8 executed (10 total minus 2 cache hits), 16000ms total.
	assert.Equal(t, int64(2000), s.AvgDurationMs())
	assert.InDelta(t, 0.8, s.SuccessRate(), 1e-9)

	empty := model.AgentStats{AgentID: "never-ran"}
	assert.Equal(t, int64(0), empty.AvgDurationMs())
	assert.Equal(t, 0.0, empty.SuccessRate())

	allCached := model.AgentStats{TotalRuns: 3, CacheHits: 3, Succeeded: 0}
	assert.Equal(t, int64(0), allCached.AvgDurationMs())
}
