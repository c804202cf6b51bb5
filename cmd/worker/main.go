package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/app"
	"github.com/seorin-works/backend-atelier/internal/channel"
	"github.com/seorin-works/backend-atelier/internal/config"
	"github.com/seorin-works/backend-atelier/internal/events"
	"github.com/seorin-works/backend-atelier/internal/lock"
	"github.com/seorin-works/backend-atelier/internal/obs"
	"github.com/seorin-works/backend-atelier/internal/pricesync"
	"github.com/seorin-works/backend-atelier/internal/pricing"
	"github.com/seorin-works/backend-atelier/internal/resilience"
	"github.com/seorin-works/backend-atelier/internal/syncrule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if envBool("DB_AUTO_MIGRATE", false) {
		if err := app.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	eventStore := events.NewStore(pool)
	bus := &events.Bus{Store: eventStore}

	policyCache := &pricing.PolicyCache{R: redisClient, TTL: cfg.PolicyCacheTTL, Logger: logger}
	engine := &pricing.Engine{Store: pricing.NewStore(pool), Cache: policyCache, Logger: logger}

	var provider channel.Provider
	switch cfg.Cafe24PushProvider {
	case "cafe24":
		breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
			WithTarget("cafe24").
			WithLogger(logger)
		httpClient := resilience.NewHTTPClient(breaker)
		httpClient.BaseBackoff = cfg.RetryBase
		httpClient.MaxAttempts = cfg.RetryMaxAttempts
		httpClient.Jitter = cfg.RetryJitterPercent
		httpClient.Timeout = cfg.OutboundTimeout
		provider = &channel.Cafe24Client{
			HTTP:    httpClient,
			BaseURL: cfg.Cafe24BaseURL,
		}
	default:
		provider = &channel.MockProvider{}
	}

	dispatcher := &pricesync.Dispatcher{
		Jobs:        pricesync.NewStore(pool),
		Engine:      engine,
		Rules:       syncrule.NewStore(pool),
		Accounts:    channel.NewStore(pool),
		Provider:    provider,
		Locker:      lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Bus:         bus,
		Logger:      logger,
		MaxAttempts: cfg.PushMaxAttempts,
		BaseBackoff: cfg.PushBackoffBase,
		BatchSize:   cfg.PushBatchSize,
		LockTTL:     cfg.PushLockTTL,
	}

	logger.Info().
		Str("provider", cfg.Cafe24PushProvider).
		Dur("interval", cfg.PushWorkerInterval).
		Msg("worker starting")

	ticker := time.NewTicker(cfg.PushWorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutdown complete")
			return
		case <-ticker.C:
			pushed, err := dispatcher.WorkOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("push cycle failed")
				continue
			}
			if pushed > 0 {
				logger.Info().Int("pushed", pushed).Msg("push cycle complete")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "atelier-worker"
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMaxIdleConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}
