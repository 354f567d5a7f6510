// Package catalog holds the static roster of agent personas.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/capitalize-ai/lifeline/internal/model"
)

//go:embed agents.json
var defaultRoster []byte

// ErrAgentNotFound is returned for ids missing from the roster.
var ErrAgentNotFound = errors.New("agent not found")

// roster is the on-disk shape of an agents file.
type roster struct {
	Agents []model.Agent `json:"agents" toml:"agents"`
}

// Catalog is an immutable, ordered agent roster.
type Catalog struct {
	agents []model.Agent
	byID   map[model.AgentID]int
}

// Default returns the roster shipped with the binary.
func Default() (*Catalog, error) {
	var r roster
	if err := json.Unmarshal(defaultRoster, &r); err != nil {
		return nil, fmt.Errorf("decode default roster: %w", err)
	}
	return New(r.Agents)
}

// Load reads a roster from a .json or .toml file. An empty path loads the default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var r roster
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode agents file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode agents file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported agents file type %q", filepath.Ext(path))
	}

	return New(r.Agents)
}

// New validates agents and builds a catalog preserving their order.
func New(agents []model.Agent) (*Catalog, error) {
	if len(agents) == 0 {
		return nil, errors.New("roster has no agents")
	}

	c := &Catalog{
		agents: make([]model.Agent, len(agents)),
		byID:   make(map[model.AgentID]int, len(agents)),
	}
	for i, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d: missing id", i)
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("agent %q: duplicate id", a.ID)
		}
		if a.Name == "" || a.SystemPrompt == "" {
			return nil, fmt.Errorf("agent %q: name and system_prompt are required", a.ID)
		}
		if a.StarterPrompts == nil {
			a.StarterPrompts = []string{}
		}
		c.agents[i] = a
		c.byID[a.ID] = i
	}
	return c, nil
}

// All returns the agents in roster order.
func (c *Catalog) All() []model.Agent {
	out := make([]model.Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Get looks up an agent by id.
func (c *Catalog) Get(id model.AgentID) (model.Agent, error) {
	i, ok := c.byID[id]
	if !ok {
		return model.Agent{}, ErrAgentNotFound
	}
	return c.agents[i], nil
}

// First returns the first agent of the roster.
func (c *Catalog) First() model.Agent {
	return c.agents[0]
}

// Len returns the number of agents.
func (c *Catalog) Len() int {
	return len(c.agents)
}
