// Package planner selects the agents that will answer a question about
// a dataset.
//
// Defines a Planner interface with two implementations: an HTTP client
// for the external planning service and a catalog-driven static
// planner for self-contained deployments. Planning is fail-fast: a
// transport error or an empty selection fails the run before any agent
// is dispatched.
package planner

import (
	"context"
	"errors"

	"github.com/ashita-ai/hirameki/internal/model"
)

// ErrNoAgents is returned when planning succeeds but selects nothing.
var ErrNoAgents = errors.New("planner: no agents selected")

// Planner chooses agents for a run.
type Planner interface {
	// Plan returns the agents to execute, in dispatch order. An empty
	// selection is an error; a run with nothing to do never starts
	// executing.
	Plan(ctx context.Context, summary model.DatasetSummary, question string) ([]model.AgentDescriptor, error)
}
