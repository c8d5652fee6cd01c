package agents

import "context"

// Well-known agent IDs referenced by routing heuristics and fallbacks.
// Concrete agent sets come from configuration; these constants only name the
// agents the orchestrator treats specially.
const (
	AgentConversation = "conversationAgent"
	AgentWebSearch    = "websearchAgent"
	AgentMap          = "mapAgent"
	AgentGeocode      = "geocodeAgent"
	AgentBusiness     = "businessAgent"
	AgentBusinessPro  = "businessProAgent"
)

// Output is the result of one agent invocation.
type Output struct {
	Text  string
	Usage map[string]interface{}
}

// Agent is an invocable worker. Implementations live behind the agent runtime
// boundary; the orchestrator only sees this interface.
type Agent interface {
	ID() string
	Invoke(ctx context.Context, query string, reqContext map[string]interface{}, sessionID string) (Output, error)
}

// ToolConnector is an auxiliary tool-server session that must be opened
// around an agent invocation and closed afterwards.
type ToolConnector interface {
	Name() string
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connected is implemented by agents that carry auxiliary tool connectors.
// The check happens once at registration time; the executor never probes
// agent internals at call time.
type Connected interface {
	Connectors() []ToolConnector
}
