package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/seorin-works/backend-atelier/internal/app"
	"github.com/seorin-works/backend-atelier/internal/audit"
	"github.com/seorin-works/backend-atelier/internal/cache"
	"github.com/seorin-works/backend-atelier/internal/channel"
	"github.com/seorin-works/backend-atelier/internal/common"
	"github.com/seorin-works/backend-atelier/internal/config"
	"github.com/seorin-works/backend-atelier/internal/costline"
	"github.com/seorin-works/backend-atelier/internal/events"
	"github.com/seorin-works/backend-atelier/internal/factorset"
	"github.com/seorin-works/backend-atelier/internal/health"
	"github.com/seorin-works/backend-atelier/internal/obs"
	"github.com/seorin-works/backend-atelier/internal/pricesync"
	"github.com/seorin-works/backend-atelier/internal/pricing"
	"github.com/seorin-works/backend-atelier/internal/ratelimit"
	"github.com/seorin-works/backend-atelier/internal/syncrule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "atelier")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "atelier-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if envBool("DB_AUTO_MIGRATE", true) {
		if err := app.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "atelier-api"
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
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	validate := validator.New()

	eventStore := events.NewStore(pool)
	bus := &events.Bus{Store: eventStore}

	auditStore := audit.NewStore(pool)
	auditSvc := &audit.Service{Store: auditStore, Logger: logger}
	auditHandler := &audit.Handler{Svc: auditSvc}

	policyCache := &pricing.PolicyCache{R: redisClient, TTL: cfg.PolicyCacheTTL, Logger: logger}
	pricingStore := pricing.NewStore(pool)
	engine := &pricing.Engine{Store: pricingStore, Cache: policyCache, Logger: logger}
	pricingHandler := &pricing.Handler{
		Engine:   engine,
		Store:    pricingStore,
		Cache:    policyCache,
		Bus:      bus,
		Audit:    auditSvc,
		Validate: validate,
		Logger:   logger,
	}

	factorsetHandler := &factorset.Handler{
		Store:    factorset.NewStore(pool),
		Bus:      bus,
		Audit:    auditSvc,
		Validate: validate,
		Logger:   logger,
	}

	syncruleHandler := &syncrule.Handler{
		Store:    syncrule.NewStore(pool),
		Bus:      bus,
		Audit:    auditSvc,
		Validate: validate,
		Logger:   logger,
	}

	channelHandler := &channel.Handler{
		Store:    channel.NewStore(pool),
		Audit:    auditSvc,
		Validate: validate,
		Logger:   logger,
	}

	pushHandler := &pricesync.Handler{
		Store:    pricesync.NewStore(pool),
		Audit:    auditSvc,
		Validate: validate,
		Logger:   logger,
	}

	costlineHandler := &costline.Handler{Validate: validate}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	limiter := ratelimit.Limiter{Client: redisClient}
	limitErrLog := func(err error) {
		logger.Warn().Err(err).Msg("rate limit check failed")
	}
	quoteLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return cache.KeyQuoteRate(clientIP(r)) },
			Window: cfg.QuoteRateWindow,
			Max:    cfg.QuoteRateMax,
		},
		OnError: limitErrLog,
	}
	bulkLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return cache.KeyBulkAdjustRate(clientIP(r)) },
			Window: cfg.BulkRateWindow,
			Max:    cfg.BulkRateMax,
		},
		OnError: limitErrLog,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Api-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(quoteLimit.Middleware).Post("/pricing/quote", pricingHandler.Quote)
		v.Post("/shipments/cost-lines/classify", costlineHandler.Classify)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(common.RequireAPIKey(cfg.AdminAPIKey))

			admin.Get("/policies", pricingHandler.ListPolicies)
			admin.Get("/policies/{policyID}", pricingHandler.GetPolicy)
			admin.Get("/adjustments", pricingHandler.ListAdjustments)
			admin.Get("/adjustments/{adjustmentID}", pricingHandler.GetAdjustment)
			admin.Get("/overrides", pricingHandler.ListOverrides)
			admin.Get("/overrides/{overrideID}", pricingHandler.GetOverride)
			admin.Get("/factor-sets", factorsetHandler.ListSets)
			admin.Get("/factor-sets/{factorSetID}", factorsetHandler.GetSet)
			admin.Get("/factor-sets/{factorSetID}/factors", factorsetHandler.ListFactors)
			admin.Get("/material-rates", factorsetHandler.ListRates)
			admin.Get("/rule-sets", syncruleHandler.ListRuleSets)
			admin.Get("/rule-sets/{ruleSetID}", syncruleHandler.GetRuleSet)
			admin.Get("/rule-sets/{ruleSetID}/rules/r2", syncruleHandler.ListR2Rules)
			admin.Get("/rule-sets/{ruleSetID}/rules/r3", syncruleHandler.ListR3Rules)
			admin.Get("/channels", channelHandler.List)
			admin.Get("/channels/{channelID}", channelHandler.Get)
			admin.Get("/push-jobs", pushHandler.ListJobs)
			admin.Get("/audit-logs", auditHandler.List)

			admin.Group(func(g chi.Router) {
				g.Use(idem.Middleware)

				g.Post("/policies", pricingHandler.CreatePolicy)
				g.Put("/policies/{policyID}", pricingHandler.UpdatePolicy)
				g.Post("/policies/{policyID}/activate", pricingHandler.ActivatePolicy)
				g.Delete("/policies/{policyID}", pricingHandler.DeletePolicy)

				g.Post("/adjustments", pricingHandler.CreateAdjustment)
				g.Put("/adjustments/{adjustmentID}", pricingHandler.UpdateAdjustment)
				g.Delete("/adjustments/{adjustmentID}", pricingHandler.DeleteAdjustment)

				g.Post("/overrides", pricingHandler.CreateOverride)
				g.Put("/overrides/{overrideID}", pricingHandler.UpdateOverride)
				g.Delete("/overrides/{overrideID}", pricingHandler.DeleteOverride)

				g.Post("/factor-sets", factorsetHandler.CreateSet)
				g.Put("/factor-sets/{factorSetID}", factorsetHandler.UpdateSet)
				g.Delete("/factor-sets/{factorSetID}", factorsetHandler.DeleteSet)
				g.Post("/factor-sets/{factorSetID}/default", factorsetHandler.MarkGlobalDefault)
				g.Put("/factor-sets/{factorSetID}/factors", factorsetHandler.UpsertFactors)
				g.Put("/material-rates", factorsetHandler.UpsertRate)

				g.Post("/rule-sets", syncruleHandler.CreateRuleSet)
				g.Put("/rule-sets/{ruleSetID}", syncruleHandler.UpdateRuleSet)
				g.Delete("/rule-sets/{ruleSetID}", syncruleHandler.DeleteRuleSet)
				g.Post("/rule-sets/{ruleSetID}/rules/r2", syncruleHandler.CreateR2Rule)
				g.Put("/rule-sets/{ruleSetID}/rules/r2/{ruleID}", syncruleHandler.UpdateR2Rule)
				g.Delete("/rule-sets/{ruleSetID}/rules/r2/{ruleID}", syncruleHandler.DeleteR2Rule)
				g.Post("/rule-sets/{ruleSetID}/rules/r3", syncruleHandler.CreateR3Rule)
				g.Put("/rule-sets/{ruleSetID}/rules/r3/{ruleID}", syncruleHandler.UpdateR3Rule)
				g.Delete("/rule-sets/{ruleSetID}/rules/r3/{ruleID}", syncruleHandler.DeleteR3Rule)

				g.With(bulkLimit.Middleware).Post("/rules/bulk-adjust", syncruleHandler.BulkAdjust)

				g.Post("/channels", channelHandler.Create)
				g.Put("/channels/{channelID}", channelHandler.Update)
				g.Delete("/channels/{channelID}", channelHandler.Delete)
				g.Put("/channels/{channelID}/account", channelHandler.UpsertAccount)
				g.Post("/channels/{channelID}/push", pushHandler.EnqueuePush)
			})
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// clientIP keys the rate limiters; RealIP middleware has already folded
// X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
