// Package report merges the terminal agent executions of a run into a
// single report. All functions are pure and deterministic.
package report

import (
	"sort"
	"time"

	"github.com/ashita-ai/hirameki/internal/model"
)

// Build assembles the report for run from its executions. Insights and
// failures are ordered by agent id, so the same inputs always produce
// the same report. Non-terminal executions are ignored.
//
// A run where every agent failed still gets a report; it simply carries
// no insights.
func Build(run model.Run, executions []model.AgentExecution, generatedAt time.Time) model.Report {
	sorted := make([]model.AgentExecution, len(executions))
	copy(sorted, executions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	r := model.Report{
		RunID:       run.ID,
		Question:    run.Question,
		Insights:    []model.Insight{},
		Failures:    []model.ReportFailure{},
		GeneratedAt: generatedAt,
	}

	for _, exec := range sorted {
		switch {
		case exec.Status.Succeeded():
			var payload model.AgentPayload
			if exec.Payload != nil {
				payload = *exec.Payload
			}
			r.Insights = append(r.Insights, model.Insight{
				AgentID:    exec.AgentID,
				Cached:     exec.Cached,
				Payload:    payload,
				DurationMs: exec.DurationMs,
			})
			r.Summary.Succeeded++
			if exec.Cached {
				r.Summary.Cached++
			}
		case exec.Status == model.ExecutionStatusFailed:
			r.Failures = append(r.Failures, model.ReportFailure{
				AgentID:  exec.AgentID,
				Category: exec.ErrorCategory,
				Message:  exec.ErrorMessage,
			})
			r.Summary.Failed++
		}
	}
	return r
}

// Classify returns the terminal status a run earns from its report:
// completed when every agent contributed, failed when none did, and
// partially_failed for the mix.
func Classify(r model.Report) model.RunStatus {
	switch {
	case r.Summary.Failed == 0:
		return model.RunStatusCompleted
	case r.Summary.Succeeded == 0:
		return model.RunStatusFailed
	default:
		return model.RunStatusPartiallyFailed
	}
}
