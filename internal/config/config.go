package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// LLM providers
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	OpenAIAPIKey    string
	OpenAIModel     string

	// Per-call hard timeout for provider requests. Shorter than the overall
	// user-perceived operation; expiry counts as a retryable failure.
	ProviderTimeout time.Duration

	// Rate limiting (per service)
	RateWindow    time.Duration
	RateMax       int
	QueueCapacity int
	DispatchTick  time.Duration

	// Circuit breaker (per service)
	BreakerFailureThreshold  uint32
	BreakerRecoveryTimeout   time.Duration
	BreakerHalfOpenSuccesses uint32

	// Retry
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// Orchestration
	InterAgentDelay time.Duration
	ParallelBatch   int // 0 = sequential (production default)

	// Response cache
	CacheTTL      time.Duration
	CacheCapacity int

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Auth: routes verify Supabase-issued HS256 access tokens.
	JWTSecret string

	// Comma-separated CORS origins for the browser UI.
	AllowedOrigins string

	// HTTP client
	HTTPTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 45*time.Second),

		RateWindow:    getEnvDuration("RATE_WINDOW", time.Minute),
		RateMax:       getEnvInt("RATE_MAX_REQUESTS", 10),
		QueueCapacity: getEnvInt("RATE_QUEUE_CAPACITY", 25),
		DispatchTick:  getEnvDuration("RATE_DISPATCH_TICK", 100*time.Millisecond),

		BreakerFailureThreshold:  uint32(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerRecoveryTimeout:   getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerHalfOpenSuccesses: uint32(getEnvInt("BREAKER_HALF_OPEN_SUCCESSES", 3)),

		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),

		InterAgentDelay: getEnvDuration("INTER_AGENT_DELAY", time.Second),
		ParallelBatch:   getEnvInt("AGENT_PARALLEL_BATCH", 0),

		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheCapacity: getEnvInt("CACHE_CAPACITY", 100),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
