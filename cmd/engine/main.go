package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/content-engine/config"
	"github.com/vnmchuo/content-engine/internal/analytics"
	"github.com/vnmchuo/content-engine/internal/batch"
	"github.com/vnmchuo/content-engine/internal/cache"
	"github.com/vnmchuo/content-engine/internal/dispatch"
	"github.com/vnmchuo/content-engine/internal/gen"
	"github.com/vnmchuo/content-engine/internal/optimizer"
	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/quota"
	"github.com/vnmchuo/content-engine/internal/selection"
	"github.com/vnmchuo/content-engine/internal/server"
	"github.com/vnmchuo/content-engine/internal/telemetry"
	"github.com/vnmchuo/content-engine/internal/usage"
	"github.com/vnmchuo/content-engine/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("content-engine", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 3. Load provider registry
	providerConfigs, err := cfg.LoadProviders()
	if err != nil {
		log.Fatalf("failed to load providers: %v", err)
	}

	providers := make([]provider.Provider, 0, len(providerConfigs))
	endpoints := make(map[string]gen.Endpoint, len(providerConfigs))
	for _, pc := range providerConfigs {
		providers = append(providers, provider.Provider{
			Name:       pc.Name,
			Capability: provider.Capability(pc.Capability),
			DailyLimit: pc.DailyLimit,
			Unlimited:  pc.Unlimited,
			UnitCost:   pc.UnitCost,
			Priority:   pc.Priority,
		})
		if pc.Endpoint != "" {
			endpoints[pc.Name] = gen.Endpoint{URL: pc.Endpoint, APIKey: pc.APIKey()}
		}
	}
	registry, err := provider.NewRegistry(providers)
	if err != nil {
		log.Fatalf("invalid provider registry: %v", err)
	}
	log.Printf("registered %d providers", len(providers))

	// 4. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 6. Init cache
	var store cache.Store = cache.NewMemoryStore()
	if cfg.CacheBackend == "redis" {
		store = cache.NewRedisStore(rdb, logger)
	}
	contentCache := cache.New(store, cfg.CacheEnabled)

	// 7. Init quota tracking + selection
	tracker := quota.NewTracker(registry)
	selector := selection.NewSelector(registry, tracker, logger)

	// 8. Init dispatcher
	tracer := otel.GetTracerProvider().Tracer("content-engine")
	dispatcher := dispatch.New(registry, tracker, selector, contentCache, gen.NewHTTPAdapter(endpoints), dispatch.Options{
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
		Tracer:  tracer,
	})

	// 9. Init HTTP layer
	handler := server.NewHandler(server.Deps{
		Text:       gen.NewTextGenerator(dispatcher, logger),
		Image:      gen.NewImageGenerator(dispatcher, logger),
		Batch:      batch.NewCoordinator(dispatcher, logger),
		Registry:   registry,
		Quota:      tracker,
		Cache:      contentCache,
		Usage:      usage.NewPostgresStore(pool),
		Analytics:  analytics.NewEngine(logger),
		Optimizer:  optimizer.New(logger),
		Limiter:    ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM),
		Tracer:     tracer,
		Logger:     logger,
		Strategy:   selection.Policy(cfg.SelectionStrategy),
		MaxRetries: cfg.MaxRetries,
	})

	// 10. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(server.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"content-engine"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate/text", handler.HandleGenerateText)
		r.Post("/generate/images", handler.HandleGenerateImages)
		r.Post("/batch", handler.HandleBatch)
		r.Get("/usage", handler.HandleUsage)
		r.Delete("/cache", handler.HandleCacheClear)

		r.Post("/ab-tests", handler.HandleCreateABTest)
		r.Get("/ab-tests/{pageID}/variant", handler.HandleABVariant)
		r.Post("/ab-tests/{pageID}/events", handler.HandleABEvent)
		r.Get("/ab-tests/{pageID}/analysis", handler.HandleABAnalysis)

		r.Post("/optimize", handler.HandleOptimize)
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Content engine starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
