// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sleuthsite/detectory/internal/api"
	"github.com/sleuthsite/detectory/internal/audit"
	"github.com/sleuthsite/detectory/internal/auth"
	"github.com/sleuthsite/detectory/internal/cache"
	"github.com/sleuthsite/detectory/internal/config"
	"github.com/sleuthsite/detectory/internal/db"
	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/health"
	"github.com/sleuthsite/detectory/internal/idempotency"
	"github.com/sleuthsite/detectory/internal/listing"
	"github.com/sleuthsite/detectory/internal/middleware"
	"github.com/sleuthsite/detectory/internal/ranking"
	"github.com/sleuthsite/detectory/internal/tracing"
	"github.com/sleuthsite/detectory/internal/visibility"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Detectory API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, 2*len(summary))
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx := context.Background()

	dbConn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Redis is optional. Without it the rate limiter uses an in-memory
	// store, which holds for a single replica.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("redis unreachable, falling back to in-memory stores", "error", pingErr)
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "detectory-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	cacheMetrics := cache.NewMetrics()
	if err := cacheMetrics.Register(reg); err != nil {
		logger.Error("failed to register cache metrics", "error", err)
		os.Exit(1)
	}

	// LoadCalibration falls back to defaults and logs when the file is
	// missing or malformed.
	points, _ := ranking.LoadCalibration(cfg.RankingCalibrationPath)

	responseCache := cache.New(cache.WithMetrics(cacheMetrics))
	detectiveRepo := detective.NewPostgresRepository(dbConn, logger)
	visibilityRepo := visibility.NewPostgresRepository(dbConn, logger)

	listingService := listing.NewService(detectiveRepo, visibilityRepo, responseCache, logger,
		listing.WithPoints(points),
		listing.WithCacheTTL(cfg.ListingCacheTTLSeconds),
		listing.WithFeaturedLimit(cfg.FeaturedHomeLimit),
	)
	visibilityService := visibility.NewService(visibilityRepo, detectiveRepo, responseCache,
		[]string{listing.CacheKeyPrefix, listing.FeaturedCachePrefix}, logger,
		visibility.WithPoints(points),
	)

	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Rate limiting. Redis-backed when available so limits hold across
	// replicas.
	var rateStore middleware.RateLimitStore
	if redisClient != nil {
		rateStore = middleware.NewRedisRateLimitStoreWithMetrics(redisClient, httpMetrics)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		rateStore = memStore
	}
	globalLimit := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimitGlobalPerMinute, WindowDuration: time.Minute}
	adminLimit := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimitAdminPerMinute, WindowDuration: time.Minute}
	listingLimit := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimitListingPerMinute, WindowDuration: time.Minute}

	idempotencyRepo := idempotency.NewInMemoryRepository()
	idempotencyStop := make(chan struct{})
	defer close(idempotencyStop)
	go idempotency.RunPeriodicCleanup(idempotencyRepo, time.Hour, 24*time.Hour, idempotencyStop)
	idempotencyRoutes := map[string]bool{
		"/admin/detectives/{id}/recalculate": true,
	}

	listingHandlers := api.NewListingHandlers(listingService)
	visibilityHandlers := api.NewVisibilityHandlers(visibilityService)

	healthConfig := api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(dbConn),
		MetricsEnabled: true,
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Public read path with its own rate limit window.
	listingRate := middleware.RateLimiter(rateStore, listingLimit, prefixedKeyFunc("listing"), httpMetrics)
	mux.Handle("/detectives/ranked", listingRate(http.HandlerFunc(listingHandlers.RankedDetectives)))
	mux.Handle("/services/featured-home", listingRate(http.HandlerFunc(listingHandlers.FeaturedHome)))

	// Admin write path. RequireAdmin runs before the idempotency layer so
	// anonymous callers never consume an idempotency key.
	auditRepo := audit.NewInMemoryRepository()
	recordAudit := func(r *http.Request, detectiveID, action string) {
		if err := audit.LogAccessFromRequest(r, auditRepo, "detective", detectiveID, action); err != nil {
			logger.Warn("audit log write failed", "action", action, "error", err)
		}
	}
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/visibility"):
			if id := adminPathID(r.URL.Path, "/visibility"); id != "" {
				if r.Method == http.MethodGet {
					recordAudit(r, id, "view_visibility")
				} else {
					recordAudit(r, id, "override_visibility")
				}
			}
			visibilityHandlers.Visibility(w, r)
		case strings.HasSuffix(r.URL.Path, "/recalculate"):
			if id := adminPathID(r.URL.Path, "/recalculate"); id != "" {
				recordAudit(r, id, "recalculate_score")
			}
			visibilityHandlers.Recalculate(w, r)
		default:
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
		}
	})
	adminChain := middleware.RateLimiter(rateStore, adminLimit, prefixedKeyFunc("admin"), httpMetrics)(
		middleware.RequireAdmin(
			middleware.IdempotencyMiddleware(idempotencyRepo, idempotencyRoutes)(adminHandler),
		),
	)
	mux.Handle("/admin/detectives/", adminChain)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"detectory-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware, outermost first:
	// RequestID -> Profiling -> HTTPMetrics -> Tracing -> Logging -> CORS
	// -> global rate limit -> Authenticate
	var handler http.Handler = mux
	handler = middleware.Authenticate(jwtService)(handler)
	handler = middleware.RateLimiter(rateStore, globalLimit, middleware.UserKeyFunc(), httpMetrics)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("detectory-api")(handler)
	}
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	})(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// adminPathID extracts the detective ID from /admin/detectives/{id}<suffix>.
// Returns "" when the path does not carry an ID segment.
func adminPathID(path, suffix string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, "/admin/detectives/"), suffix)
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return ""
	}
	return trimmed
}

// prefixedKeyFunc namespaces rate limit keys per route group so the admin
// and listing windows do not share buckets with the global limiter.
func prefixedKeyFunc(group string) middleware.KeyFunc {
	userKey := middleware.UserKeyFunc()
	return func(r *http.Request) string {
		return group + ":" + userKey(r)
	}
}
