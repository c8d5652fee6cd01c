package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quorumhq/quorum/internal/agents"
)

// stubAgent is a scriptable in-process agent.
type stubAgent struct {
	id      string
	output  string
	err     error
	delay   time.Duration
	panicIt bool
}

func (s *stubAgent) ID() string { return s.id }

func (s *stubAgent) Invoke(ctx context.Context, _ string, _ map[string]interface{}, _ string) (agents.Output, error) {
	if s.panicIt {
		panic("stub agent exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return agents.Output{}, ctx.Err()
		}
	}
	if s.err != nil {
		return agents.Output{}, s.err
	}
	return agents.Output{Text: s.output}, nil
}

// connectedAgent wraps a stub with scripted connectors.
type connectedAgent struct {
	stubAgent
	connectors []agents.ToolConnector
}

func (c *connectedAgent) Connectors() []agents.ToolConnector { return c.connectors }

type stubConnector struct {
	name    string
	openErr error
	opened  bool
	closed  bool
}

func (c *stubConnector) Name() string { return c.name }
func (c *stubConnector) Open(context.Context) error {
	c.opened = true
	return c.openErr
}
func (c *stubConnector) Close(context.Context) error {
	c.closed = true
	return nil
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	return New(cfg, zaptest.NewLogger(t))
}

func TestExecuteParallelEmptyInput(t *testing.T) {
	e := newTestExecutor(t, Config{})
	_, err := e.ExecuteParallel(context.Background(), nil, "q", nil, "")
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestExecuteParallelPreservesInputOrder(t *testing.T) {
	e := newTestExecutor(t, Config{MaxConcurrency: 4})

	batch := []agents.Agent{
		&stubAgent{id: "slow", output: "slow out", delay: 80 * time.Millisecond},
		&stubAgent{id: "fast", output: "fast out"},
		&stubAgent{id: "medium", output: "medium out", delay: 30 * time.Millisecond},
	}

	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "s1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "slow", results[0].AgentID)
	assert.Equal(t, "fast", results[1].AgentID)
	assert.Equal(t, "medium", results[2].AgentID)
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestExecuteParallelExactlyOneResultPerAgent(t *testing.T) {
	e := newTestExecutor(t, Config{MaxConcurrency: 2})

	batch := []agents.Agent{
		&stubAgent{id: "ok", output: "fine"},
		&stubAgent{id: "fails", err: errors.New("backend down")},
		&stubAgent{id: "panics", panicIt: true},
	}

	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, ErrKindExecution, results[1].Kind)
	assert.False(t, results[2].Success)
	assert.Equal(t, ErrKindPanic, results[2].Kind)
	assert.Contains(t, results[2].Error, "stub agent exploded")
}

func TestExecuteParallelPerAgentTimeout(t *testing.T) {
	e := newTestExecutor(t, Config{
		AgentTimeout: 30 * time.Millisecond,
		BatchTimeout: time.Second,
	})

	batch := []agents.Agent{
		&stubAgent{id: "sleepy", output: "never", delay: 500 * time.Millisecond},
		&stubAgent{id: "prompt", output: "done"},
	}

	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Equal(t, ErrKindTimeout, results[0].Kind)
	assert.True(t, results[1].Success)
}

func TestExecuteParallelBatchTimeoutKeepsCompleted(t *testing.T) {
	e := newTestExecutor(t, Config{
		AgentTimeout: time.Second,
		BatchTimeout: 60 * time.Millisecond,
	})

	batch := []agents.Agent{
		&stubAgent{id: "quick", output: "quick out"},
		&stubAgent{id: "stuck", output: "never", delay: 2 * time.Second},
	}

	start := time.Now()
	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "quick out", results[0].Output)
	assert.False(t, results[1].Success)
	assert.Equal(t, ErrKindTimeout, results[1].Kind)
	assert.Less(t, elapsed, time.Second, "batch deadline must bound the wait")
}

func TestExecuteParallelPerAgentTimestamps(t *testing.T) {
	e := newTestExecutor(t, Config{MaxConcurrency: 2})

	batch := []agents.Agent{
		&stubAgent{id: "a", output: "x", delay: 20 * time.Millisecond},
		&stubAgent{id: "b", output: "y", delay: 60 * time.Millisecond},
	}

	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "")
	require.NoError(t, err)

	for _, r := range results {
		assert.False(t, r.StartedAt.IsZero())
		assert.False(t, r.CompletedAt.IsZero())
		assert.True(t, !r.CompletedAt.Before(r.StartedAt))
	}
	// Each agent's window reflects its own run, not a shared batch stamp.
	assert.NotEqual(t, results[0].CompletedAt, results[1].CompletedAt)
}

func TestExecuteParallelBatchTimeoutKeepsLaunchTime(t *testing.T) {
	e := newTestExecutor(t, Config{
		AgentTimeout: time.Second,
		BatchTimeout: 60 * time.Millisecond,
	})

	batch := []agents.Agent{
		&stubAgent{id: "stuck", output: "never", delay: 2 * time.Second},
	}

	before := time.Now()
	results, err := e.ExecuteParallel(context.Background(), batch, "q", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.False(t, r.Success)
	require.Equal(t, ErrKindTimeout, r.Kind)

	// StartedAt is the agent's own launch, not a stamp taken at the batch
	// deadline: it must land well before the 60ms timeout elapsed.
	assert.Less(t, r.StartedAt.Sub(before), 30*time.Millisecond)
	assert.GreaterOrEqual(t, r.CompletedAt.Sub(r.StartedAt), 60*time.Millisecond)
	assert.GreaterOrEqual(t, r.Latency, 60*time.Millisecond)
}

func TestExecuteParallelConnectorLifecycle(t *testing.T) {
	conn := &stubConnector{name: "scraper"}
	a := &connectedAgent{
		stubAgent:  stubAgent{id: "tooling", output: "with tools"},
		connectors: []agents.ToolConnector{conn},
	}

	e := newTestExecutor(t, Config{})
	results, err := e.ExecuteParallel(context.Background(), []agents.Agent{a}, "q", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.True(t, conn.opened)
	assert.True(t, conn.closed)
}

func TestExecuteParallelConnectorOpenFailure(t *testing.T) {
	conn := &stubConnector{name: "broken", openErr: fmt.Errorf("refused")}
	a := &connectedAgent{
		stubAgent:  stubAgent{id: "tooling", output: "unreached"},
		connectors: []agents.ToolConnector{conn},
	}

	e := newTestExecutor(t, Config{})
	results, err := e.ExecuteParallel(context.Background(), []agents.Agent{a}, "q", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Equal(t, ErrKindConnector, results[0].Kind)
}
