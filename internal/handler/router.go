package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/lumenbi/insight-agents-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// jwtSecret empty disables auth (local development only); allowedOrigins is
// the comma-separated CORS allowlist for the browser UI.
func NewRouter(
	chatSvc *service.ChatService,
	registry *resilience.Registry,
	metrics *observability.Metrics,
	jwtSecret string,
	allowedOrigins string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(allowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(registry))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Catalog and diagnostics carry no user data and back the UI's
		// pre-login status panel.
		r.Get("/agents", listAgentsHandler(chatSvc))
		r.Get("/health/services", serviceHealthHandler(registry))
		r.Get("/metrics/agents", agentMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			if jwtSecret != "" {
				r.Use(JWTAuthMiddleware(jwtSecret, logger))
			}

			// Chats
			r.Post("/chats", createChatHandler(chatSvc, logger))
			r.Get("/chats", listChatsHandler(chatSvc, logger))
			r.Get("/chats/{chatID}", getChatHandler(chatSvc, logger))
			r.Patch("/chats/{chatID}", renameChatHandler(chatSvc, logger))
			r.Delete("/chats/{chatID}", deleteChatHandler(chatSvc, logger))

			// Messages / agent runs
			r.Get("/chats/{chatID}/messages", listMessagesHandler(chatSvc, logger))
			r.Post("/chats/{chatID}/messages", sendMessageHandler(chatSvc, logger))
			r.Post("/runs/{runID}/cancel", cancelRunHandler(chatSvc))
		})
	})

	return r
}

// ============================================================
// Probes
// ============================================================

func healthzHandler(registry *resilience.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := serviceSnapshot(registry)

		overall := domain.HealthHealthy
		for _, s := range services {
			if s.Status == domain.HealthDown {
				overall = domain.HealthDown
				break
			}
			if s.Status == domain.HealthDegraded {
				overall = domain.HealthDegraded
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// serviceSnapshot merges monitor stats with limiter and breaker state per
// registered service.
func serviceSnapshot(registry *resilience.Registry) []domain.ServiceHealth {
	if registry == nil {
		return nil
	}
	now := time.Now().Format(time.RFC3339)
	services := make([]domain.ServiceHealth, 0, len(registry.Services()))
	for _, name := range registry.Services() {
		health := registry.Monitor().Status(name)
		if policy, ok := registry.Policy(name); ok {
			health.CircuitState = policy.Breaker.StateName()
			health.QueueDepth = policy.Limiter.Depth()
		}
		health.LastChecked = now
		services = append(services, health)
	}
	return services
}
