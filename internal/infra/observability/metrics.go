package observability

import (
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the backend.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	agentCallDuration *prometheus.HistogramVec
	agentCallsTotal   *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	tokensUsed        *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	breakerState      *prometheus.GaugeVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		agentCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insight_agent_call_duration_seconds",
				Help:    "Duration of individual agent calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		agentCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_agent_calls_total",
				Help: "Total agent calls by terminal status.",
			},
			[]string{"status"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_runs_total",
				Help: "Total orchestration runs by outcome.",
			},
			[]string{"status"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_provider_errors_total",
				Help: "Total errors from LLM providers and the store.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_cache_hits_total",
				Help: "Total response cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_cache_misses_total",
				Help: "Total response cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "insight_rate_queue_depth",
				Help: "Current rate-limiter queue depth per service.",
			},
			[]string{"service"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "insight_breaker_state",
				Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
			},
			[]string{"service"},
		),
	}
}

// RecordAgentCall records the duration and terminal status of one agent call.
func (m *Metrics) RecordAgentCall(agent string, status domain.AgentResultStatus, d time.Duration) {
	m.agentCallDuration.WithLabelValues(agent).Observe(d.Seconds())
	m.agentCallsTotal.WithLabelValues(string(status)).Inc()
}

// IncrRun increments the run counter with an outcome label.
func (m *Metrics) IncrRun(status string) {
	m.runsTotal.WithLabelValues(status).Inc()
}

// IncrProviderError increments the provider error counter.
func (m *Metrics) IncrProviderError(service string) {
	m.providerErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// SetQueueDepth updates the queue depth gauge for a service.
func (m *Metrics) SetQueueDepth(service string, depth int) {
	m.queueDepth.WithLabelValues(service).Set(float64(depth))
}

// SetBreakerState updates the breaker state gauge for a service.
func (m *Metrics) SetBreakerState(service string, state int) {
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// AgentSnapshot returns a snapshot of agent-related metrics suitable for the
// GET /v1/metrics/agents endpoint.
func (m *Metrics) AgentSnapshot() *domain.AgentMetrics {
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	completed := getCounterValue(m.agentCallsTotal, string(domain.StatusComplete))
	failed := getCounterValue(m.agentCallsTotal, string(domain.StatusError))
	totalCalls := completed + failed
	totalRuns := getCounterValue(m.runsTotal, "success") + getCounterValue(m.runsTotal, "error")
	cacheHits := getCounterValue(m.cacheHits, "responses")
	cacheMisses := getCounterValue(m.cacheMisses, "responses")

	totalTokens := promptTokens + completionTokens
	avgTokens := float64(0)
	errorRate := float64(0)
	cacheHitRate := float64(0)

	if totalCalls > 0 {
		avgTokens = totalTokens / totalCalls
		errorRate = failed / totalCalls
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// Blended estimate: ~$0.27/1M prompt tokens, ~$1.10/1M completion tokens
	// (deepseek-chat list price; OpenAI mini models are in the same band).
	estimatedCost := (promptTokens/1_000_000)*0.27 + (completionTokens/1_000_000)*1.10

	return &domain.AgentMetrics{
		TotalRuns:        int64(totalRuns),
		TotalAgentCalls:  int64(totalCalls),
		ErrorRate:        errorRate,
		CacheHitRate:     cacheHitRate,
		AvgTokensPerCall: avgTokens,
		EstimatedCostUsd: estimatedCost,
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
