// Command sweeper periodically evicts expired result-cache entries and
// removes embeddings older than the retention window.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/StudyPathAI/studypath-engine/engine/docstore"
	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/pkg/cache"
	"github.com/StudyPathAI/studypath-engine/pkg/metrics"
)

var met = metrics.New()

var (
	mCacheEvicted  = met.Counter("studypath_sweep_cache_evicted_total", "Expired cache entries removed")
	mDocsRemoved   = met.Counter("studypath_sweep_docs_removed_total", "Stale embeddings removed")
	mSweepErrors   = met.Counter("studypath_sweep_errors_total", "Failed sweep passes")
	mLastSweep     = met.Gauge("studypath_sweep_last_timestamp", "Epoch of last completed sweep")
	mSweepDuration = met.Histogram("studypath_sweep_duration_seconds", "Sweep pass time", nil)
)

// noopEmbedder satisfies the store for maintenance-only use; the sweeper
// never embeds anything.
type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, domain.ErrInvalidArgument
}

func (noopEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, domain.ErrInvalidArgument
}

func main() {
	var (
		qdrantAddr   = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		cacheBackend = flag.String("cache", "sqlite", "cache backend: sqlite or redis")
		cachePath    = flag.String("cache-path", "data/results.db", "sqlite cache path")
		redisURL     = flag.String("redis", "redis://localhost:6379/0", "redis URL")
		collections  = flag.String("collections", "", "comma-separated collections to clean up")
		retainDays   = flag.Int("retain-days", 90, "embedding retention in days")
		interval     = flag.Duration("interval", time.Hour, "sweep interval")
		metricsPort  = flag.Int("metrics-port", 9092, "metrics HTTP port")
	)
	flag.Parse()

	met.ServeAsync(*metricsPort)

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		resultCache cache.Store
		err         error
	)
	switch *cacheBackend {
	case "redis":
		opts, perr := redis.ParseURL(*redisURL)
		if perr != nil {
			log.Error("redis url invalid", "error", perr)
			os.Exit(1)
		}
		resultCache = cache.NewRedis(redis.NewClient(opts), "")
	default:
		resultCache, err = cache.OpenSQLite(*cachePath)
		if err != nil {
			log.Error("sqlite open failed", "error", err)
			os.Exit(1)
		}
	}
	defer resultCache.Close()

	store, err := docstore.New(docstore.Config{
		QdrantAddr: *qdrantAddr,
		Embedder:   noopEmbedder{},
		Logger:     log,
	})
	if err != nil {
		log.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Shutdown()

	var targets []string
	for _, c := range strings.Split(*collections, ",") {
		if c = strings.TrimSpace(c); c != "" {
			targets = append(targets, c)
		}
	}

	sweep := func() {
		start := time.Now()
		defer mSweepDuration.Since(start)

		evicted, err := resultCache.ClearExpired(ctx)
		if err != nil {
			mSweepErrors.Inc()
			log.Error("cache sweep failed", "error", err)
		} else {
			mCacheEvicted.Add(int64(evicted))
			log.Info("cache swept", "evicted", evicted)
		}

		for _, coll := range targets {
			removed, err := store.CleanupOldEmbeddings(ctx, coll, *retainDays)
			if err != nil {
				mSweepErrors.Inc()
				log.Error("cleanup failed", "collection", coll, "error", err)
				continue
			}
			mDocsRemoved.Add(int64(removed))
			log.Info("embeddings cleaned", "collection", coll, "removed", removed)
		}
		mLastSweep.Set(time.Now().Unix())
	}

	log.Info("sweeper running", "interval", *interval, "retain_days", *retainDays, "collections", targets)
	sweep()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
