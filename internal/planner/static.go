package planner

import (
	"context"

	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/model"
)

// capability tags describe how an agent is implemented, not what data
// it applies to, and never participate in profile matching.
var capabilityTags = map[string]bool{
	"local":     true,
	"generated": true,
}

// StaticPlanner selects catalog agents whose tags match the dataset
// profile. It is the fallback for self-contained deployments with no
// planning service.
type StaticPlanner struct {
	catalog *catalog.Catalog
	// localOnly restricts selection to agents with a built-in
	// implementation, used when no code-generation backend is
	// configured.
	localOnly bool
}

// NewStaticPlanner creates a catalog-driven planner.
func NewStaticPlanner(cat *catalog.Catalog, localOnly bool) *StaticPlanner {
	return &StaticPlanner{catalog: cat, localOnly: localOnly}
}

// Plan selects every applicable agent for the dataset profile, ordered
// by agent id. The question is not consulted; static planning matches
// shape, not intent.
func (p *StaticPlanner) Plan(_ context.Context, summary model.DatasetSummary, _ string) ([]model.AgentDescriptor, error) {
	profile := profileTags(summary)

	var selected []model.AgentDescriptor
	for _, agent := range p.catalog.List() {
		if p.localOnly && !hasTag(agent.Tags, "local") {
			continue
		}
		if matchesProfile(agent.Tags, profile) {
			selected = append(selected, agent)
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoAgents
	}
	return selected, nil
}

// profileTags derives the matchable tag set from a dataset profile.
func profileTags(summary model.DatasetSummary) map[string]bool {
	tags := make(map[string]bool)
	if len(summary.Columns) == 0 {
		return tags
	}
	tags["tabular"] = true
	tags["profile"] = true
	tags["quality"] = true

	var numeric, categorical bool
	for _, col := range summary.Columns {
		switch col.Type {
		case "integer", "float":
			numeric = true
		case "string", "bool":
			categorical = true
		case "timestamp":
			tags["timeseries"] = true
		}
	}
	if numeric {
		tags["numeric"] = true
	}
	if numeric && categorical {
		tags["segmentation"] = true
	}
	return tags
}

func matchesProfile(agentTags []string, profile map[string]bool) bool {
	for _, tag := range agentTags {
		if capabilityTags[tag] {
			continue
		}
		if profile[tag] {
			return true
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
