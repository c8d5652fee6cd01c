// Package orchestrator composes selection, execution, and mixing into one
// request lifecycle with caching, breaker feedback, and layered fallbacks.
// RouteQuery always returns a response: no internal error ever escapes it.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/cache"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/executor"
	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/metrics"
	"github.com/quorumhq/quorum/internal/mixer"
	"github.com/quorumhq/quorum/internal/monitor"
	"github.com/quorumhq/quorum/internal/selector"
	"github.com/quorumhq/quorum/internal/tracing"
)

// Apology is the static message returned only when selection, execution, and
// the final fallback agent all failed.
const Apology = "I'm sorry, I wasn't able to process your request right now. Please try again in a moment."

// Response is the result of routing one query.
type Response struct {
	Content    string   `json:"content"`
	AgentsUsed []string `json:"agents_used"`
	Trace      *Trace   `json:"trace"`
}

type requestOptions struct {
	sessionID  string
	reqContext map[string]interface{}
}

// Option customizes one RouteQuery call.
type Option func(*requestOptions)

// WithSessionID attaches a session/conversation handle to the request.
func WithSessionID(id string) Option {
	return func(o *requestOptions) { o.sessionID = id }
}

// WithContext attaches caller-provided request context for the agents.
func WithContext(reqContext map[string]interface{}) Option {
	return func(o *requestOptions) { o.reqContext = reqContext }
}

// Orchestrator owns the request pipeline. Construct once at startup and share
// across requests; per-request state lives in the Trace.
type Orchestrator struct {
	index    *experts.Index
	registry *agents.Registry
	sel      selector.Selector
	capSel   *selector.CapabilitySelector
	exec     *executor.Executor
	mon      *monitor.Monitor
	mix      mixer.Mixer
	cache    cache.ResultCache // nil disables caching
	logger   *zap.Logger

	mu      sync.RWMutex
	routing config.RoutingConfig
}

// New wires an orchestrator. capSel is the deterministic strategy used as the
// fail-open path when the primary selector errors; it may be the same value
// as sel. resultCache may be nil.
func New(
	routing config.RoutingConfig,
	index *experts.Index,
	registry *agents.Registry,
	sel selector.Selector,
	capSel *selector.CapabilitySelector,
	exec *executor.Executor,
	mon *monitor.Monitor,
	mix mixer.Mixer,
	resultCache cache.ResultCache,
	logger *zap.Logger,
) *Orchestrator {
	if routing.MaxExperts < 1 {
		routing.MaxExperts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		routing:  routing,
		index:    index,
		registry: registry,
		sel:      sel,
		capSel:   capSel,
		exec:     exec,
		mon:      mon,
		mix:      mix,
		cache:    resultCache,
		logger:   logger,
	}
}

// ApplyKnobs installs hot-reloaded tuning values on the orchestrator and its
// collaborators.
func (o *Orchestrator) ApplyKnobs(k config.Knobs) {
	o.mu.Lock()
	o.routing = k.Routing
	o.mu.Unlock()

	o.mon.SetConfig(monitor.Config{
		Threshold:  k.Breaker.Threshold,
		Cooldown:   k.Breaker.Cooldown,
		MinSamples: k.Breaker.MinSamples,
		WindowSize: k.Breaker.WindowSize,
	})
	o.capSel.SetGap(k.Routing.KeywordGap)
	if es, ok := o.sel.(*selector.EmbeddingSelector); ok {
		es.SetGap(k.Routing.EmbeddingGap)
	}
}

func (o *Orchestrator) routingConfig() config.RoutingConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.routing
}

// RouteQuery runs one query through the full pipeline. It never returns an
// error for a well-formed query; total failure yields the static apology.
func (o *Orchestrator) RouteQuery(ctx context.Context, query string, opts ...Option) (*Response, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	routing := o.routingConfig()
	trace := NewTrace(query, ro.sessionID)
	start := time.Now()
	defer func() {
		trace.finish()
		metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	log := o.logger.With(
		zap.String("request_id", trace.RequestID),
		zap.String("query", query),
	)

	// Cache check short-circuits the whole pipeline.
	if o.cache != nil {
		if e, ok := o.cache.Get(ctx, query); ok {
			trace.CacheHit = true
			metrics.RequestsTotal.WithLabelValues("cache_hit").Inc()
			log.Info("Cache hit, returning stored response")
			return &Response{Content: e.Response, AgentsUsed: e.AgentIDs, Trace: trace}, nil
		}
	}

	// Fast path: trivial smalltalk goes straight to the conversation agent.
	if routing.FastPath && isSmallTalk(query) {
		if resp := o.tryFastPath(ctx, query, ro, trace, log); resp != nil {
			metrics.RequestsTotal.WithLabelValues("fast_path").Inc()
			return resp, nil
		}
	}

	// Selection with fail-open to the deterministic capability strategy.
	trace.Selection.Start = time.Now()
	selCtx, selSpan := tracing.StartSpan(ctx, "route.select")
	ids, err := o.sel.Select(selCtx, query, routing.MaxExperts, routing.Threshold)
	if err != nil || len(ids) == 0 {
		log.Warn("Primary selection failed, falling back to capability matching",
			zap.String("strategy", o.sel.Name()),
			zap.Error(err),
		)
		metrics.SelectionsTotal.WithLabelValues(o.sel.Name(), "error").Inc()
		metrics.Fallbacks.WithLabelValues("selection").Inc()
		ids, err = o.capSel.Select(selCtx, query, routing.MaxExperts, routing.Threshold)
		if err != nil || len(ids) == 0 {
			selSpan.End()
			trace.Selection.End = time.Now()
			return o.totalFallback(ctx, query, ro, trace, log, "selection failed"), nil
		}
	} else {
		metrics.SelectionsTotal.WithLabelValues(o.sel.Name(), "ok").Inc()
	}
	selSpan.End()

	// Breaker filter, then map-intent prioritization so the monitor's
	// re-ranking cannot evict the map agent from a visualization query.
	ids = o.mon.OptimizeSelection(ids, routing.MaxExperts)
	ids = PrioritizeForMapIntent(query, ids, routing.MaxExperts)
	trace.Selection.End = time.Now()
	metrics.SelectedAgents.Observe(float64(len(ids)))

	batch := o.registry.Resolve(ids)
	if len(batch) == 0 {
		log.Warn("No selected agent could be instantiated", zap.Strings("agent_ids", ids))
		return o.totalFallback(ctx, query, ro, trace, log, "no agents instantiated"), nil
	}

	// Execution.
	trace.markPending(ids)
	trace.Execution.Start = time.Now()
	for _, a := range batch {
		trace.setStatus(a.ID(), StatusExecuting)
	}
	execCtx, execSpan := tracing.StartSpan(ctx, "route.execute")
	results, err := o.exec.ExecuteParallel(execCtx, batch, query, ro.reqContext, ro.sessionID)
	execSpan.End()
	trace.Execution.End = time.Now()
	if err != nil {
		// Only possible on an empty batch, which is guarded above.
		log.Error("Executor rejected batch", zap.Error(err))
		return o.totalFallback(ctx, query, ro, trace, log, err.Error()), nil
	}

	for _, r := range results {
		o.mon.Record(r.AgentID, r.Latency, r.Success, r.Error)
		trace.recordResult(r.AgentID, r.Success, r.Latency, r.Error, r.StartedAt, r.CompletedAt)
	}

	results = o.businessFallback(ctx, query, ro, trace, log, results)

	anySuccess := false
	for _, r := range results {
		if r.Success {
			anySuccess = true
			break
		}
	}
	if !anySuccess {
		log.Warn("Every selected agent failed", zap.Int("agents", len(results)))
		return o.totalFallback(ctx, query, ro, trace, log, "all agents failed"), nil
	}

	// Mixing.
	trace.Mixing.Start = time.Now()
	mixCtx, mixSpan := tracing.StartSpan(ctx, "route.mix")
	mixed, mixErr := o.mix.Mix(mixCtx, results, query)
	mixSpan.End()
	trace.Mixing.End = time.Now()
	if mixErr != nil || mixed == nil {
		// The mixer is contractually fail-open; guard anyway.
		log.Error("Mixer returned an error", zap.Error(mixErr))
		return o.totalFallback(ctx, query, ro, trace, log, "mixing failed"), nil
	}

	used := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			used = append(used, r.AgentID)
		}
	}

	if o.cache != nil {
		o.cache.Store(ctx, query, mixed.Content, used)
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	log.Info("Request routed",
		zap.Strings("agents_used", used),
		zap.Float64("quality", mixed.Quality),
		zap.Duration("latency", time.Since(start)),
	)
	return &Response{Content: mixed.Content, AgentsUsed: used, Trace: trace}, nil
}

// tryFastPath routes the query to the conversation agent alone. A nil return
// sends the request down the full pipeline instead.
func (o *Orchestrator) tryFastPath(ctx context.Context, query string, ro requestOptions, trace *Trace, log *zap.Logger) *Response {
	a, ok := o.registry.Get(agents.AgentConversation)
	if !ok || !o.mon.IsAvailable(agents.AgentConversation) {
		return nil
	}

	trace.markPending([]string{a.ID()})
	trace.Execution.Start = time.Now()
	results, err := o.exec.ExecuteParallel(ctx, []agents.Agent{a}, query, ro.reqContext, ro.sessionID)
	trace.Execution.End = time.Now()
	if err != nil || len(results) != 1 {
		return nil
	}

	r := results[0]
	o.mon.Record(r.AgentID, r.Latency, r.Success, r.Error)
	trace.recordResult(r.AgentID, r.Success, r.Latency, r.Error, r.StartedAt, r.CompletedAt)
	if !r.Success {
		return nil
	}

	log.Info("Fast path answered query", zap.String("agent_id", r.AgentID))
	return &Response{Content: r.Output, AgentsUsed: []string{r.AgentID}, Trace: trace}
}

// businessFallback augments the executed set when the richer business agent
// failed but the plain variant is registered and was not attempted: the plain
// agent runs post hoc and its result is appended instead of surfacing the
// richer variant's failure.
func (o *Orchestrator) businessFallback(ctx context.Context, query string, ro requestOptions, trace *Trace, log *zap.Logger, results []executor.Result) []executor.Result {
	proFailed := false
	plainAttempted := false
	for _, r := range results {
		if r.AgentID == agents.AgentBusinessPro && !r.Success {
			proFailed = true
		}
		if r.AgentID == agents.AgentBusiness {
			plainAttempted = true
		}
	}
	if !proFailed || plainAttempted {
		return results
	}

	plain, ok := o.registry.Get(agents.AgentBusiness)
	if !ok || !o.mon.IsAvailable(agents.AgentBusiness) {
		return results
	}

	log.Info("Richer business agent failed, augmenting with plain variant")
	metrics.Fallbacks.WithLabelValues("business").Inc()

	extra, err := o.exec.ExecuteParallel(ctx, []agents.Agent{plain}, query, ro.reqContext, ro.sessionID)
	if err != nil || len(extra) != 1 {
		return results
	}
	r := extra[0]
	o.mon.Record(r.AgentID, r.Latency, r.Success, r.Error)
	trace.recordResult(r.AgentID, r.Success, r.Latency, r.Error, r.StartedAt, r.CompletedAt)
	return append(results, r)
}

// totalFallback routes the query to the statically configured fallback agent
// and, when even that fails, returns the static apology. This is the only
// path allowed to produce a non-substantive answer.
func (o *Orchestrator) totalFallback(ctx context.Context, query string, ro requestOptions, trace *Trace, log *zap.Logger, reason string) *Response {
	trace.Fallback = true
	trace.Error = reason
	metrics.Fallbacks.WithLabelValues("total").Inc()

	routing := o.routingConfig()
	fallbackID := routing.FallbackAgent
	if fallbackID == "" {
		fallbackID = agents.AgentConversation
	}

	if a, ok := o.registry.Get(fallbackID); ok {
		results, err := o.exec.ExecuteParallel(ctx, []agents.Agent{a}, query, ro.reqContext, ro.sessionID)
		if err == nil && len(results) == 1 {
			r := results[0]
			o.mon.Record(r.AgentID, r.Latency, r.Success, r.Error)
			trace.recordResult(r.AgentID, r.Success, r.Latency, r.Error, r.StartedAt, r.CompletedAt)
			if r.Success {
				log.Info("Fallback agent answered query",
					zap.String("agent_id", fallbackID),
					zap.String("reason", reason),
				)
				metrics.RequestsTotal.WithLabelValues("fallback").Inc()
				return &Response{Content: r.Output, AgentsUsed: []string{fallbackID}, Trace: trace}
			}
		}
	}

	log.Error("Total failure, returning static apology", zap.String("reason", reason))
	metrics.RequestsTotal.WithLabelValues("apology").Inc()
	return &Response{Content: Apology, AgentsUsed: []string{}, Trace: trace}
}

var smallTalk = []string{
	"hi", "hello", "hey", "yo", "thanks", "thank you", "good morning",
	"good afternoon", "good evening", "good night", "how are you",
	"what's up", "bye", "goodbye", "see you",
}

// isSmallTalk recognizes trivial conversational queries eligible for the
// fast path.
func isSmallTalk(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.Trim(q, "!.?, ")
	if q == "" {
		return false
	}
	for _, s := range smallTalk {
		if q == s {
			return true
		}
	}
	return false
}
