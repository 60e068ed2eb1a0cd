// Package main implements the StudyPath engine API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/StudyPathAI/studypath-engine/engine/docstore"
	"github.com/StudyPathAI/studypath-engine/pkg/cache"
	"github.com/StudyPathAI/studypath-engine/pkg/embed"
	"github.com/StudyPathAI/studypath-engine/pkg/metrics"
	"github.com/StudyPathAI/studypath-engine/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	QdrantURL    string
	OllamaURL    string
	EmbedModel   string
	EmbedRPS     float64
	CacheBackend string // "sqlite" or "redis"
	CachePath    string
	RedisURL     string
	CacheTTL     time.Duration
	NATSURL      string
	CORSOrigin   string
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "nomic-embed-text"),
		EmbedRPS:     envFloat("EMBED_RPS", 10),
		CacheBackend: envOr("CACHE_BACKEND", "sqlite"),
		CachePath:    envOr("CACHE_PATH", "data/results.db"),
		RedisURL:     envOr("REDIS_URL", "redis://localhost:6379/0"),
		CacheTTL:     envDuration("CACHE_TTL", cache.DefaultTTL),
		NATSURL:      envOr("NATS_URL", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// openCache selects the durable result-cache backend.
func openCache(cfg Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		return cache.NewRedis(redis.NewClient(opts), ""), nil
	case "sqlite":
		return cache.OpenSQLite(cfg.CachePath)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Result cache ---
	resultCache, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer resultCache.Close()

	// --- Embedding client ---
	embedder := embed.NewOllamaClient(cfg.OllamaURL, cfg.EmbedModel,
		embed.WithRateLimit(cfg.EmbedRPS, int(cfg.EmbedRPS)+1),
	)

	// --- Document store ---
	store, err := docstore.Open(docstore.Config{
		QdrantAddr: cfg.QdrantURL,
		Embedder:   embedder,
		Cache:      resultCache,
		CacheTTL:   cfg.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Shutdown()

	// --- Optional NATS connection for async ingestion ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	reg := metrics.New()
	srvState := &server{
		store:     store,
		cache:     resultCache,
		nc:        nc,
		log:       logger,
		ingested:  reg.Counter("documents_ingested_total", "Documents written through the API"),
		searches:  reg.Counter("searches_total", "Search requests served"),
		searchDur: reg.Histogram("search_duration_seconds", "Search latency", nil),
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/collections/{collection}/documents", srvState.handleAddDocument)
	mux.HandleFunc("POST /api/collections/{collection}/documents/batch", srvState.handleAddBatch)
	mux.HandleFunc("POST /api/collections/{collection}/search", srvState.handleSearch)
	mux.HandleFunc("POST /api/collections/{collection}/search/hybrid", srvState.handleHybridSearch)
	mux.HandleFunc("GET /api/collections/{collection}/stats", srvState.handleStats)
	mux.HandleFunc("POST /api/collections/{collection}/cleanup", srvState.handleCleanup)
	mux.HandleFunc("DELETE /api/collections/{collection}/documents/{id}", srvState.handleDeleteDocument)
	mux.HandleFunc("DELETE /api/collections/{collection}", srvState.handleClearCollection)
	mux.HandleFunc("GET /api/cache/stats", srvState.handleCacheStats)
	mux.HandleFunc("POST /api/cache/sweep", srvState.handleCacheSweep)
	mux.HandleFunc("DELETE /api/cache", srvState.handleCacheClear)
	mux.Handle("GET /metrics", reg.Handler())
	if nc != nil {
		mux.HandleFunc("POST /api/collections/{collection}/ingest", srvState.handleEnqueue)
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("studypath-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "cache", cfg.CacheBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
