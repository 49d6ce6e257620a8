// Package catalog loads the agent catalog: the set of analysis agents a
// deployment knows about, with the metadata the planner and the UI
// decorate runs with.
//
// The catalog is a TOML file. A built-in default ships in the binary;
// HIRAMEKI_CATALOG points at an override.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/ashita-ai/hirameki/internal/model"
)

//go:embed default.toml
var defaultTOML string

// Agent is one catalog entry.
type Agent struct {
	Name           string   `toml:"name"`
	Description    string   `toml:"description"`
	Tags           []string `toml:"tags"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// file is the TOML document shape.
type file struct {
	Agents map[string]Agent `toml:"agents"`
}

// Catalog is an immutable, validated agent catalog.
type Catalog struct {
	agents map[string]Agent
	ids    []string
}

// Load reads the catalog at path, or the built-in default when path is
// empty. Unknown keys and malformed entries are errors: a typo in the
// catalog should fail startup, not silently drop an agent.
func Load(path string) (*Catalog, error) {
	data := defaultTOML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		data = string(raw)
	}
	return parse(data)
}

func parse(data string) (*Catalog, error) {
	var f file
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("catalog: unknown key %q", undecoded[0].String())
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("catalog: no agents defined")
	}

	ids := make([]string, 0, len(f.Agents))
	for id, agent := range f.Agents {
		if err := model.ValidateAgentID(id); err != nil {
			return nil, fmt.Errorf("catalog: agent %q: %w", id, err)
		}
		if agent.Name == "" {
			return nil, fmt.Errorf("catalog: agent %q: name is required", id)
		}
		if agent.TimeoutSeconds < 0 {
			return nil, fmt.Errorf("catalog: agent %q: timeout_seconds must not be negative", id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &Catalog{agents: f.Agents, ids: ids}, nil
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (model.AgentDescriptor, bool) {
	agent, ok := c.agents[id]
	if !ok {
		return model.AgentDescriptor{}, false
	}
	return c.descriptor(id, agent), true
}

// List returns all descriptors ordered by agent id.
func (c *Catalog) List() []model.AgentDescriptor {
	out := make([]model.AgentDescriptor, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.descriptor(id, c.agents[id]))
	}
	return out
}

// WithTag returns the descriptors carrying tag, ordered by agent id.
func (c *Catalog) WithTag(tag string) []model.AgentDescriptor {
	var out []model.AgentDescriptor
	for _, id := range c.ids {
		agent := c.agents[id]
		for _, t := range agent.Tags {
			if t == tag {
				out = append(out, c.descriptor(id, agent))
				break
			}
		}
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.ids) }

func (c *Catalog) descriptor(id string, agent Agent) model.AgentDescriptor {
	return model.AgentDescriptor{
		ID:             id,
		Name:           agent.Name,
		Description:    agent.Description,
		Tags:           agent.Tags,
		TimeoutSeconds: agent.TimeoutSeconds,
	}
}
