// Package health runs liveness/readiness checks against the router's
// external dependencies and serves them over HTTP probe endpoints.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one health check.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is the result of running one checker.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure makes the service not ready.
	IsCritical() bool
	Timeout() time.Duration
}

// Overall summarizes the service health.
type Overall struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Ready     bool      `json:"ready"`
	Live      bool      `json:"live"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the detailed health payload.
type Report struct {
	Overall    Overall                `json:"overall"`
	Components map[string]CheckResult `json:"components"`
}

// Manager runs registered checkers on demand and on a background interval.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	stopCh   chan struct{}
	started  bool
}

// NewManager creates a manager with the given background check interval.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		interval: interval,
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
	)
	return nil
}

// Start begins background checking.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
	m.logger.Info("Health manager started", zap.Duration("interval", m.interval))
}

// Stop halts background checking.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.Detailed(ctx)
			cancel()
		}
	}
}

func (m *Manager) run(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	res := c.Check(checkCtx)
	res.Component = c.Name()
	res.Critical = c.IsCritical()
	res.Duration = time.Since(start)
	res.Timestamp = start
	return res
}

// Detailed runs every checker and returns the full report.
func (m *Manager) Detailed(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		components[c.Name()] = m.run(ctx, c)
	}

	m.mu.Lock()
	for name, res := range components {
		m.last[name] = res
	}
	m.mu.Unlock()

	return Report{
		Overall:    overall(components),
		Components: components,
	}
}

// IsReady reports whether all critical dependencies are reachable.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Detailed(ctx).Overall.Ready
}

// IsLive reports process liveness. The process serving the probe is alive.
func (m *Manager) IsLive(_ context.Context) bool {
	return true
}

func overall(components map[string]CheckResult) Overall {
	criticalFailures := 0
	degraded := 0
	for _, res := range components {
		switch res.Status {
		case StatusUnhealthy:
			if res.Critical {
				criticalFailures++
			} else {
				degraded++
			}
		case StatusDegraded:
			degraded++
		}
	}

	o := Overall{Live: true, Timestamp: time.Now()}
	switch {
	case len(components) == 0:
		o.Status = StatusUnknown
		o.Message = "no health checks registered"
		o.Ready = true
	case criticalFailures > 0:
		o.Status = StatusUnhealthy
		o.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		o.Ready = false
	case degraded > 0:
		o.Status = StatusDegraded
		o.Message = fmt.Sprintf("%d component(s) degraded", degraded)
		o.Ready = true
	default:
		o.Status = StatusHealthy
		o.Message = fmt.Sprintf("all %d components healthy", len(components))
		o.Ready = true
	}
	return o
}
