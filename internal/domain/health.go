package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// Health classification for a downstream service. Advisory telemetry only —
// it never gates calls (the circuit breaker does).
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// ServiceHealth is the per-service snapshot returned by
// GET /v1/health/services and embedded in /healthz.
type ServiceHealth struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	ErrorRatePct  float64 `json:"errorRatePct"`
	LastLatencyMs int64   `json:"lastLatencyMs"`
	TotalRequests int64   `json:"totalRequests"`
	CircuitState  string  `json:"circuitState,omitempty"`
	QueueDepth    int     `json:"queueDepth"`
	LastChecked   string  `json:"lastChecked,omitempty"`
}

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// AgentMetrics is the JSON snapshot returned by GET /v1/metrics/agents,
// consumed by the settings/diagnostics panel in the UI.
type AgentMetrics struct {
	TotalRuns        int64   `json:"totalRuns"`
	TotalAgentCalls  int64   `json:"totalAgentCalls"`
	ErrorRate        float64 `json:"errorRate"`
	CacheHitRate     float64 `json:"cacheHitRate"`
	AvgTokensPerCall float64 `json:"avgTokensPerCall"`
	EstimatedCostUsd float64 `json:"estimatedCostUsd"`
	Period           string  `json:"period"`
}
