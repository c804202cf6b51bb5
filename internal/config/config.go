package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AdminAPIKey        string

	PolicyCacheTTL time.Duration
	IdempotencyTTL time.Duration

	QuoteRateWindow time.Duration
	QuoteRateMax    int
	BulkRateWindow  time.Duration
	BulkRateMax     int

	Cafe24BaseURL      string
	Cafe24PushProvider string

	PushWorkerInterval time.Duration
	PushBatchSize      int
	PushMaxAttempts    int
	PushBackoffBase    time.Duration
	PushLockTTL        time.Duration

	CircuitMinRequests  int
	CircuitFailureRate  float64
	CircuitOpenFor      time.Duration
	OutboundTimeout     time.Duration
	RetryBase           time.Duration
	RetryMaxAttempts    int
	RetryJitterPercent  float64
	LockRetryBackoff    time.Duration
	DBMaxOpenConns      int
	DBMaxIdleConns      int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AdminAPIKey:        strings.TrimSpace(k.String("ADMIN_API_KEY")),

		PolicyCacheTTL: parseDuration(k.String("PRICING_POLICY_CACHE_TTL"), "30s"),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		QuoteRateWindow: parseDuration(k.String("QUOTE_RATE_WINDOW"), "1s"),
		QuoteRateMax:    parseInt(k.String("QUOTE_RATE_MAX"), 50),
		BulkRateWindow:  parseDuration(k.String("BULK_ADJUST_RATE_WINDOW"), "10s"),
		BulkRateMax:     parseInt(k.String("BULK_ADJUST_RATE_MAX"), 5),

		Cafe24BaseURL:      valueOrDefault(k.String("CAFE24_BASE_URL"), "https://api.cafe24.com"),
		Cafe24PushProvider: valueOrDefault(k.String("PRICE_PUSH_PROVIDER"), "mock"),

		PushWorkerInterval: parseDuration(k.String("PUSH_WORKER_INTERVAL"), "2s"),
		PushBatchSize:      parseInt(k.String("PUSH_BATCH_SIZE"), 50),
		PushMaxAttempts:    parseInt(k.String("PUSH_MAX_ATTEMPTS"), 5),
		PushBackoffBase:    parseDuration(k.String("PUSH_BACKOFF_BASE"), "30s"),
		PushLockTTL:        parseDuration(k.String("PUSH_LOCK_TTL"), "60s"),

		CircuitMinRequests: parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		DBMaxOpenConns:     parseInt(k.String("DB_MAX_OPEN_CONNS"), 0),
		DBMaxIdleConns:     parseInt(k.String("DB_MAX_IDLE_CONNS"), 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
