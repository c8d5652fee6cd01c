package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_requests_total",
			Help: "Total number of routing requests",
		},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Selection metrics
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_selections_total",
			Help: "Total number of expert selections",
		},
		[]string{"strategy", "status"},
	)

	SelectedAgents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_selected_agents",
			Help:    "Number of agents chosen per request",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	// Agent execution metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent_id", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 25000, 30000},
		},
		[]string{"agent_id"},
	)

	AgentTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_agent_timeouts_total",
			Help: "Total number of per-agent timeouts",
		},
		[]string{"agent_id"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_breaker_open",
			Help: "Circuit breaker state per agent (1 = open, 0 = closed)",
		},
		[]string{"agent_id"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"agent_id", "to"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_cache_hits_total",
			Help: "Total result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_cache_misses_total",
			Help: "Total result cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_cache_evictions_total",
			Help: "Total result cache evictions (TTL expiry and size pressure)",
		},
	)

	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_cache_errors_total",
			Help: "Total absorbed cache storage errors",
		},
	)

	// Synthesis metrics
	SynthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_synthesis_total",
			Help: "Total synthesis attempts by path",
		},
		[]string{"path"},
	)

	BlocksRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_viz_blocks_repaired_total",
			Help: "Total visualization blocks re-appended after lossy synthesis",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_embedding_requests_total",
			Help: "Total embedding requests by result",
		},
		[]string{"result"},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_embedding_duration_seconds",
			Help:    "Embedding request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Fallback metrics
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_fallbacks_total",
			Help: "Total fallback activations by kind",
		},
		[]string{"kind"},
	)
)

// RecordEmbedding records the outcome of one embedding service call.
func RecordEmbedding(result string, seconds float64) {
	EmbeddingRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		EmbeddingDuration.Observe(seconds)
	}
}
