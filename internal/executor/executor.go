// Package executor runs selected agents concurrently under bounded
// parallelism and two timeout layers, producing exactly one structured result
// per agent regardless of outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/metrics"
)

// ErrNoAgents is the only error ExecuteParallel can return: the input list
// was empty. Individual agent failures never propagate.
var ErrNoAgents = errors.New("no agents to execute")

// ErrKind classifies a failed result. Timeouts are distinguished from generic
// execution failures for messaging purposes.
type ErrKind string

const (
	ErrKindNone      ErrKind = ""
	ErrKindTimeout   ErrKind = "timeout"
	ErrKindExecution ErrKind = "execution"
	ErrKindConnector ErrKind = "connector"
	ErrKindPanic     ErrKind = "panic"
)

// Result is the outcome of one agent execution. Exactly one is produced per
// attempted agent. StartedAt/CompletedAt are captured at that agent's own
// boundaries, never shared across the batch.
type Result struct {
	AgentID     string                 `json:"agent_id"`
	Output      string                 `json:"output"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Kind        ErrKind                `json:"error_kind,omitempty"`
	Latency     time.Duration          `json:"latency"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Config bounds the executor.
type Config struct {
	MaxConcurrency int
	AgentTimeout   time.Duration
	BatchTimeout   time.Duration
}

// Executor runs agent batches.
type Executor struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// New creates an executor, applying defaults for unset config fields.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 25 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logger,
	}
}

// ExecuteParallel runs every agent concurrently and returns one result per
// agent in input order. Individual failures, panics, connector errors, and
// timeouts are converted into failed results. When the batch deadline elapses,
// still-pending agents are recorded as timeouts; completed results are kept.
func (e *Executor) ExecuteParallel(ctx context.Context, batch []agents.Agent, query string, reqContext map[string]interface{}, sessionID string) ([]Result, error) {
	if len(batch) == 0 {
		return nil, ErrNoAgents
	}

	chans := make([]chan Result, len(batch))
	launched := make([]time.Time, len(batch))
	for i, a := range batch {
		chans[i] = make(chan Result, 1)
		launched[i] = time.Now()
		go func(a agents.Agent, out chan<- Result) {
			out <- e.runOne(ctx, a, query, reqContext, sessionID)
		}(a, chans[i])
	}

	deadline := time.NewTimer(e.cfg.BatchTimeout)
	defer deadline.Stop()

	results := make([]Result, len(batch))
	expired := false
	for i := range batch {
		if expired {
			// Batch deadline already hit: take whatever is ready, mark the
			// rest as timed out without further cancellation plumbing.
			select {
			case r := <-chans[i]:
				results[i] = r
			default:
				results[i] = e.batchTimeoutResult(batch[i].ID(), launched[i])
			}
			continue
		}
		select {
		case r := <-chans[i]:
			results[i] = r
		case <-deadline.C:
			expired = true
			select {
			case r := <-chans[i]:
				results[i] = r
			default:
				results[i] = e.batchTimeoutResult(batch[i].ID(), launched[i])
			}
		}
	}

	return results, nil
}

// runOne executes a single agent with its own timeout, connector lifecycle,
// and panic isolation. It always returns a Result and never panics outward.
func (e *Executor) runOne(ctx context.Context, a agents.Agent, query string, reqContext map[string]interface{}, sessionID string) (res Result) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		now := time.Now()
		return e.failed(a.ID(), ErrKindExecution, fmt.Sprintf("acquire execution slot: %v", err), now, now)
	}
	defer e.sem.Release(1)

	agentCtx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Agent panicked during execution",
				zap.String("agent_id", a.ID()),
				zap.Any("panic", r),
			)
			res = e.failed(a.ID(), ErrKindPanic, fmt.Sprintf("agent panic: %v", r), start, time.Now())
		}
	}()

	// Open auxiliary tool connectors around the call when the agent declares
	// them. The capability was decided at registration; no probing here.
	if c, ok := a.(agents.Connected); ok {
		for _, conn := range c.Connectors() {
			if err := conn.Open(agentCtx); err != nil {
				return e.failed(a.ID(), ErrKindConnector,
					fmt.Sprintf("open connector %s: %v", conn.Name(), err), start, time.Now())
			}
			defer func(tc agents.ToolConnector) {
				if err := tc.Close(context.WithoutCancel(agentCtx)); err != nil {
					e.logger.Warn("Connector close failed",
						zap.String("agent_id", a.ID()),
						zap.String("connector", tc.Name()),
						zap.Error(err),
					)
				}
			}(conn)
		}
	}

	output, err := a.Invoke(agentCtx, query, reqContext, sessionID)
	end := time.Now()

	if err != nil {
		kind := ErrKindExecution
		if errors.Is(err, context.DeadlineExceeded) || agentCtx.Err() == context.DeadlineExceeded {
			kind = ErrKindTimeout
			metrics.AgentTimeouts.WithLabelValues(a.ID()).Inc()
		}
		return e.failed(a.ID(), kind, err.Error(), start, end)
	}

	metrics.AgentExecutions.WithLabelValues(a.ID(), "success").Inc()
	metrics.AgentExecutionDuration.WithLabelValues(a.ID()).Observe(float64(end.Sub(start).Milliseconds()))

	return Result{
		AgentID:     a.ID(),
		Output:      output.Text,
		Success:     true,
		Latency:     end.Sub(start),
		StartedAt:   start,
		CompletedAt: end,
		Metadata:    output.Usage,
	}
}

func (e *Executor) failed(agentID string, kind ErrKind, msg string, start, end time.Time) Result {
	metrics.AgentExecutions.WithLabelValues(agentID, "failure").Inc()
	e.logger.Warn("Agent execution failed",
		zap.String("agent_id", agentID),
		zap.String("kind", string(kind)),
		zap.String("error", msg),
	)
	return Result{
		AgentID:     agentID,
		Success:     false,
		Error:       msg,
		Kind:        kind,
		Latency:     end.Sub(start),
		StartedAt:   start,
		CompletedAt: end,
	}
}

// batchTimeoutResult synthesizes the timeout result for an agent still pending
// at the batch deadline. startedAt is the agent's own launch time, so the
// result's boundaries reflect when that agent actually began.
func (e *Executor) batchTimeoutResult(agentID string, startedAt time.Time) Result {
	now := time.Now()
	metrics.AgentTimeouts.WithLabelValues(agentID).Inc()
	metrics.AgentExecutions.WithLabelValues(agentID, "failure").Inc()
	return Result{
		AgentID:     agentID,
		Success:     false,
		Error:       fmt.Sprintf("batch timeout after %s", e.cfg.BatchTimeout),
		Kind:        ErrKindTimeout,
		Latency:     now.Sub(startedAt),
		StartedAt:   startedAt,
		CompletedAt: now,
	}
}
