package handler

import (
	"net/http"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
)

// ============================================================
// Diagnostics — /v1/health/services, /v1/metrics/agents
// ============================================================

// serviceHealthHandler returns the per-service health snapshot the UI
// renders in its status panel. Advisory only: a "down" service still
// receives calls until its breaker opens.
func serviceHealthHandler(registry *resilience.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := serviceSnapshot(registry)
		if services == nil {
			services = []domain.ServiceHealth{}
		}
		writeJSON(w, http.StatusOK, services)
	}
}

func agentMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.AgentSnapshot())
	}
}
