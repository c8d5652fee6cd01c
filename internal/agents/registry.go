package agents

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the instantiated agents by ID. Registration happens during
// startup wiring; lookups happen on every request.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]Agent),
		logger: logger,
	}
}

// Register adds an agent to the registry. Registering the same ID twice is a
// wiring bug and returns an error.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("cannot register agent without an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("agent %q already registered", a.ID())
	}
	r.agents[a.ID()] = a

	connectors := 0
	if c, ok := a.(Connected); ok {
		connectors = len(c.Connectors())
	}
	r.logger.Info("Agent registered",
		zap.String("agent_id", a.ID()),
		zap.Int("connectors", connectors),
	)
	return nil
}

// Get returns the agent for an ID.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Resolve maps agent IDs to agents, skipping IDs with no registered agent.
// The returned slice preserves input order.
func (r *Registry) Resolve(ids []string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
