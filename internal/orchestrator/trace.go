package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of one agent within a request.
type AgentStatus string

const (
	StatusPending   AgentStatus = "pending"
	StatusExecuting AgentStatus = "executing"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// AgentDetail records one agent's execution within a request trace.
type AgentDetail struct {
	AgentID     string        `json:"agent_id"`
	Status      AgentStatus   `json:"status"`
	Latency     time.Duration `json:"latency,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
}

// Stage is one pipeline stage's wall-clock window.
type Stage struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Trace is the request-scoped observability record. It is mutated by each
// pipeline stage, terminal once the response returns, and never feeds back
// into later requests.
type Trace struct {
	RequestID    string        `json:"request_id"`
	Query        string        `json:"query"`
	SessionID    string        `json:"session_id,omitempty"`
	Selection    Stage         `json:"selection"`
	Execution    Stage         `json:"execution"`
	Mixing       Stage         `json:"mixing"`
	Agents       []AgentDetail `json:"agents"`
	CacheHit     bool          `json:"cache_hit"`
	Fallback     bool          `json:"fallback"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	TotalLatency time.Duration `json:"total_latency"`
}

// NewTrace starts a trace for one request.
func NewTrace(query, sessionID string) *Trace {
	return &Trace{
		RequestID: uuid.New().String(),
		Query:     query,
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
}

func (t *Trace) finish() {
	t.TotalLatency = time.Since(t.StartedAt)
}

func (t *Trace) markPending(agentIDs []string) {
	for _, id := range agentIDs {
		t.Agents = append(t.Agents, AgentDetail{AgentID: id, Status: StatusPending})
	}
}

func (t *Trace) setStatus(agentID string, status AgentStatus) {
	for i := range t.Agents {
		if t.Agents[i].AgentID == agentID {
			t.Agents[i].Status = status
			return
		}
	}
	t.Agents = append(t.Agents, AgentDetail{AgentID: agentID, Status: status})
}

func (t *Trace) recordResult(agentID string, success bool, latency time.Duration, errMsg string, started, completed time.Time) {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	for i := range t.Agents {
		if t.Agents[i].AgentID == agentID {
			t.Agents[i].Status = status
			t.Agents[i].Latency = latency
			t.Agents[i].Error = errMsg
			t.Agents[i].StartedAt = started
			t.Agents[i].CompletedAt = completed
			return
		}
	}
	t.Agents = append(t.Agents, AgentDetail{
		AgentID:     agentID,
		Status:      status,
		Latency:     latency,
		Error:       errMsg,
		StartedAt:   started,
		CompletedAt: completed,
	})
}
