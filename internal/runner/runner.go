// Package runner executes a single analysis agent against a dataset.
//
// The SandboxRunner drives the production path: an external service
// generates analysis code for the agent, a second service executes it
// in a sandbox. The LocalRunner computes the built-in analyses directly
// from the dataset spool and needs no collaborators. Failures carry a
// category so a run's report can distinguish a broken generation from a
// crashed execution or a timeout.
package runner

import (
	"context"
	"errors"

	"github.com/ashita-ai/hirameki/internal/model"
)

// Runner executes one agent. Implementations take every per-call
// resource as an argument and hold no mutable state, so a single
// instance serves all concurrent executions.
type Runner interface {
	Run(ctx context.Context, agent model.AgentDescriptor, dataset model.DatasetRef, question string) (model.AgentPayload, error)
}

// Error is a categorised agent failure.
type Error struct {
	Category model.FailureCategory
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Categorize maps any error returned by a Runner to its failure
// category. Context expiry wins over whatever category the runner
// assigned: a generation call aborted by the per-agent deadline is a
// timeout, not a generation failure.
func Categorize(err error) model.FailureCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return model.FailureCancelled
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Category
	}
	return model.FailureExecution
}
