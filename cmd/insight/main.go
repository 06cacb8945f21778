package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/config"
	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/handler"
	"github.com/lumenbi/insight-agents-go/internal/infra/cache"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/provider"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/lumenbi/insight-agents-go/internal/infra/supabase"
	"github.com/lumenbi/insight-agents-go/internal/port"
	"github.com/lumenbi/insight-agents-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("rate_window", cfg.RateWindow),
		zap.Int("rate_max_requests", cfg.RateMax),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Uint32("breaker_failure_threshold", cfg.BreakerFailureThreshold),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("parallel_batch", cfg.ParallelBatch),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "insight-agents")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience: one policy per downstream service, built up front ---
	registry := resilience.NewRegistry(resilience.Options{
		Services: []string{
			domain.ServiceDeepSeek,
			domain.ServiceOpenAI,
			domain.ServiceSupabase,
		},
		Window:            cfg.RateWindow,
		MaxRequests:       cfg.RateMax,
		QueueCapacity:     cfg.QueueCapacity,
		DispatchTick:      cfg.DispatchTick,
		FailureThreshold:  cfg.BreakerFailureThreshold,
		RecoveryTimeout:   cfg.BreakerRecoveryTimeout,
		HalfOpenSuccesses: cfg.BreakerHalfOpenSuccesses,
		MaxAttempts:       cfg.MaxAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
	}, logger)
	defer registry.Close()

	// --- Provider clients ---
	invokers := map[string]port.AgentInvoker{
		domain.ServiceDeepSeek: provider.NewDeepSeek(
			cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel,
			cfg.ProviderTimeout, logger,
		),
		domain.ServiceOpenAI: provider.NewOpenAI(
			cfg.OpenAIAPIKey, cfg.OpenAIModel,
			cfg.ProviderTimeout, logger,
		),
	}

	// --- Persistence ---
	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}
	supabasePolicy, _ := registry.Policy(domain.ServiceSupabase)
	store := supabase.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		supabasePolicy,
		registry.Monitor(),
		logger,
	)

	// --- Services ---
	responses := cache.New[domain.AgentResult](cfg.CacheTTL, cfg.CacheCapacity)
	orchestrator := service.NewOrchestrator(
		invokers,
		registry,
		responses,
		metrics,
		logger,
		cfg.InterAgentDelay,
		cfg.ParallelBatch,
	)
	chatSvc := service.NewChatService(store, orchestrator, service.NewRunTable(), metrics, logger, domain.DefaultAgents())

	if cfg.JWTSecret == "" {
		logger.Warn("SUPABASE_JWT_SECRET not set, API routes are unauthenticated")
	}

	// --- Router ---
	router := handler.NewRouter(chatSvc, registry, metrics, cfg.JWTSecret, cfg.AllowedOrigins, logger)

	// --- Gauge refresh: queue depth and breaker state per service ---
	gaugeStop := make(chan struct{})
	go refreshGauges(registry, metrics, gaugeStop)
	defer close(gaugeStop)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // agent runs are long
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func refreshGauges(registry *resilience.Registry, metrics *observability.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, name := range registry.Services() {
				if policy, ok := registry.Policy(name); ok {
					metrics.SetQueueDepth(name, policy.Limiter.Depth())
					metrics.SetBreakerState(name, int(policy.Breaker.State()))
				}
			}
		}
	}
}
