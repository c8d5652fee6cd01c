package experts

import (
	"fmt"
	"sort"
	"strings"
)

// Group is a named bundle of agents sharing capability tags and a synthesis
// weight. Groups are immutable after construction.
type Group struct {
	Name         string   `mapstructure:"name" yaml:"name"`
	AgentIDs     []string `mapstructure:"agents" yaml:"agents"`
	Capabilities []string `mapstructure:"capabilities" yaml:"capabilities"`
	Description  string   `mapstructure:"description" yaml:"description"`
	Examples     []string `mapstructure:"examples" yaml:"examples"`
	Weight       float64  `mapstructure:"weight" yaml:"weight"`
}

// Validate checks the group invariants: at least one agent, at least one
// capability, and a positive weight.
func (g Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("expert group has no name")
	}
	if len(g.AgentIDs) == 0 {
		return fmt.Errorf("expert group %q has no agents", g.Name)
	}
	if len(g.Capabilities) == 0 {
		return fmt.Errorf("expert group %q has no capabilities", g.Name)
	}
	if g.Weight <= 0 {
		return fmt.Errorf("expert group %q has non-positive weight %v", g.Name, g.Weight)
	}
	return nil
}

// Index maps capability tags to candidate agents and agents to their owning
// group. It is built once from configuration and read-only thereafter, so no
// locking is needed.
type Index struct {
	groups       []Group
	byCapability map[string][]string // capability tag -> agent IDs, config order
	byAgent      map[string]*Group   // agent ID -> owning group
}

// NewIndex builds a capability index from validated expert groups.
func NewIndex(groups []Group) (*Index, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no expert groups configured")
	}

	idx := &Index{
		groups:       make([]Group, len(groups)),
		byCapability: make(map[string][]string),
		byAgent:      make(map[string]*Group),
	}
	copy(idx.groups, groups)

	for i := range idx.groups {
		g := &idx.groups[i]
		if err := g.Validate(); err != nil {
			return nil, err
		}
		for _, cap := range g.Capabilities {
			tag := strings.ToLower(strings.TrimSpace(cap))
			if tag == "" {
				continue
			}
			idx.byCapability[tag] = append(idx.byCapability[tag], g.AgentIDs...)
		}
		for _, id := range g.AgentIDs {
			if _, dup := idx.byAgent[id]; dup {
				return nil, fmt.Errorf("agent %q appears in multiple expert groups", id)
			}
			idx.byAgent[id] = g
		}
	}

	return idx, nil
}

// Groups returns the configured expert groups in declaration order.
func (idx *Index) Groups() []Group {
	out := make([]Group, len(idx.groups))
	copy(out, idx.groups)
	return out
}

// AgentsFor returns the candidate agent IDs for a capability tag.
func (idx *Index) AgentsFor(capability string) []string {
	ids := idx.byCapability[strings.ToLower(strings.TrimSpace(capability))]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// GroupFor returns the owning group for an agent ID, if any.
func (idx *Index) GroupFor(agentID string) (Group, bool) {
	g, ok := idx.byAgent[agentID]
	if !ok {
		return Group{}, false
	}
	return *g, true
}

// WeightFor returns the synthesis weight for an agent, defaulting to 1.0 when
// the agent belongs to no configured group.
func (idx *Index) WeightFor(agentID string) float64 {
	if g, ok := idx.byAgent[agentID]; ok {
		return g.Weight
	}
	return 1.0
}

// Capabilities returns all known capability tags, sorted for determinism.
func (idx *Index) Capabilities() []string {
	tags := make([]string, 0, len(idx.byCapability))
	for tag := range idx.byCapability {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// KnownAgent reports whether an agent ID belongs to any configured group.
func (idx *Index) KnownAgent(agentID string) bool {
	_, ok := idx.byAgent[agentID]
	return ok
}
