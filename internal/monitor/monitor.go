// Package monitor tracks per-agent execution outcomes across requests and
// derives availability (circuit breaker) and ranking signals that feed back
// into expert selection.
package monitor

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/metrics"
)

// Config tunes the breaker and sliding window.
type Config struct {
	// Threshold is the breaker trip threshold: the breaker opens when the
	// recent success rate drops below 1 - Threshold.
	Threshold float64
	// Cooldown is how long an open breaker excludes the agent before it
	// closes again automatically.
	Cooldown time.Duration
	// MinSamples is the minimum recorded executions before the breaker may trip.
	MinSamples int
	// WindowSize bounds the recent-outcome sliding window.
	WindowSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.5,
		Cooldown:   5 * time.Minute,
		MinSamples: 10,
		WindowSize: 20,
	}
}

type outcome struct {
	latency time.Duration
	success bool
}

type agentEntry struct {
	mu         sync.Mutex
	total      int
	successes  int
	failures   int
	window     []outcome // bounded queue, oldest first
	errCounts  map[string]int
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	open       bool
	openUntil  time.Time
}

// Stats is a point-in-time snapshot of one agent's performance.
type Stats struct {
	AgentID           string
	Total             int
	Successes         int
	Failures          int
	AvgLatency        time.Duration
	MinLatency        time.Duration
	MaxLatency        time.Duration
	RecentSuccessRate float64
	ErrorCounts       map[string]int
	Score             float64
	BreakerOpen       bool
}

// Monitor is the process-wide performance monitor. Each agent's entry is
// guarded independently so concurrent requests never contend across agents.
type Monitor struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*agentEntry

	cfgMu sync.RWMutex
}

// New creates a monitor.
func New(cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		agents: make(map[string]*agentEntry),
	}
}

// SetConfig swaps the tuning knobs (hot reload). Open breakers keep their
// current cooldown deadline.
func (m *Monitor) SetConfig(cfg Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if cfg.Threshold > 0 && cfg.Threshold < 1 {
		m.cfg.Threshold = cfg.Threshold
	}
	if cfg.Cooldown > 0 {
		m.cfg.Cooldown = cfg.Cooldown
	}
	if cfg.MinSamples > 0 {
		m.cfg.MinSamples = cfg.MinSamples
	}
	if cfg.WindowSize > 0 {
		m.cfg.WindowSize = cfg.WindowSize
	}
}

func (m *Monitor) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

func (m *Monitor) entry(agentID string) *agentEntry {
	m.mu.RLock()
	e, ok := m.agents[agentID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.agents[agentID]; ok {
		return e
	}
	e = &agentEntry{errCounts: make(map[string]int)}
	m.agents[agentID] = e
	return e
}

// Record stores the outcome of one agent execution and re-evaluates the
// breaker for that agent.
func (m *Monitor) Record(agentID string, latency time.Duration, success bool, errMsg string) {
	cfg := m.config()
	e := m.entry(agentID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	if success {
		e.successes++
	} else {
		e.failures++
		if errMsg != "" {
			e.errCounts[errMsg]++
		}
	}

	e.window = append(e.window, outcome{latency: latency, success: success})
	if len(e.window) > cfg.WindowSize {
		e.window = e.window[len(e.window)-cfg.WindowSize:]
	}

	e.sumLatency += latency
	if e.minLatency == 0 || latency < e.minLatency {
		e.minLatency = latency
	}
	if latency > e.maxLatency {
		e.maxLatency = latency
	}

	m.evaluateBreakerLocked(agentID, e, cfg)
}

// evaluateBreakerLocked trips or resets the breaker. Caller holds e.mu.
func (m *Monitor) evaluateBreakerLocked(agentID string, e *agentEntry, cfg Config) {
	now := time.Now()

	if e.open {
		if now.After(e.openUntil) {
			m.setOpenLocked(agentID, e, false, cfg)
		}
		return
	}

	if e.total < cfg.MinSamples {
		return
	}
	if recentSuccessRateLocked(e) < 1-cfg.Threshold {
		e.openUntil = now.Add(cfg.Cooldown)
		m.setOpenLocked(agentID, e, true, cfg)
	}
}

func (m *Monitor) setOpenLocked(agentID string, e *agentEntry, open bool, cfg Config) {
	if e.open == open {
		return
	}
	e.open = open

	state := "closed"
	gauge := 0.0
	if open {
		state = "open"
		gauge = 1.0
	}
	metrics.BreakerState.WithLabelValues(agentID).Set(gauge)
	metrics.BreakerTransitions.WithLabelValues(agentID, state).Inc()

	m.logger.Info("Circuit breaker state changed",
		zap.String("agent_id", agentID),
		zap.String("to", state),
		zap.Float64("recent_success_rate", recentSuccessRateLocked(e)),
		zap.Duration("cooldown", cfg.Cooldown),
	)
}

func recentSuccessRateLocked(e *agentEntry) float64 {
	if len(e.window) == 0 {
		return 1.0
	}
	ok := 0
	for _, o := range e.window {
		if o.success {
			ok++
		}
	}
	return float64(ok) / float64(len(e.window))
}

// IsAvailable reports whether the agent's breaker is closed. An open breaker
// whose cooldown has elapsed closes automatically here; half-open is not
// modeled, the next request simply tries the agent again.
func (m *Monitor) IsAvailable(agentID string) bool {
	m.mu.RLock()
	e, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return true
	}
	if time.Now().After(e.openUntil) {
		m.setOpenLocked(agentID, e, false, m.config())
		return true
	}
	return false
}

// scoreLocked combines recent success rate with inverse latency. Unknown
// agents get a neutral score so they are neither favored nor starved.
func scoreLocked(e *agentEntry) float64 {
	if e.total == 0 {
		return 0.5
	}
	avg := time.Duration(0)
	if e.total > 0 {
		avg = e.sumLatency / time.Duration(e.total)
	}
	invLatency := 1.0 / (1.0 + avg.Seconds())
	return 0.6*recentSuccessRateLocked(e) + 0.4*invLatency
}

// OptimizeSelection drops agents with open breakers from the candidate list,
// ranks the remainder by composite performance score, and returns the top k.
// When fewer than k agents remain available it returns what is available;
// unavailable agents are never forced back in.
func (m *Monitor) OptimizeSelection(candidateIDs []string, k int) []string {
	if k < 1 {
		k = 1
	}

	type rankedAgent struct {
		id    string
		score float64
	}

	var ranked []rankedAgent
	for _, id := range candidateIDs {
		if !m.IsAvailable(id) {
			continue
		}
		score := 0.5
		m.mu.RLock()
		e, ok := m.agents[id]
		m.mu.RUnlock()
		if ok {
			e.mu.Lock()
			score = scoreLocked(e)
			e.mu.Unlock()
		}
		ranked = append(ranked, rankedAgent{id: id, score: score})
	}

	// Stable sort keeps selector rank order among equally scored agents.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.id
	}
	return out
}

// Stats returns a snapshot of one agent's performance, or ok=false when the
// agent has no recorded executions.
func (m *Monitor) Stats(agentID string) (Stats, bool) {
	m.mu.RLock()
	e, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		AgentID:           agentID,
		Total:             e.total,
		Successes:         e.successes,
		Failures:          e.failures,
		MinLatency:        e.minLatency,
		MaxLatency:        e.maxLatency,
		RecentSuccessRate: recentSuccessRateLocked(e),
		Score:             scoreLocked(e),
		BreakerOpen:       e.open,
		ErrorCounts:       make(map[string]int, len(e.errCounts)),
	}
	if e.total > 0 {
		s.AvgLatency = e.sumLatency / time.Duration(e.total)
	}
	for k, v := range e.errCounts {
		s.ErrorCounts[k] = v
	}
	return s, true
}
