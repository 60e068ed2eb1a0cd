// Command ingest consumes document batches from NATS and writes them into
// the document store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/StudyPathAI/studypath-engine/engine/docstore"
	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/engine/ingest"
	"github.com/StudyPathAI/studypath-engine/pkg/embed"
	"github.com/StudyPathAI/studypath-engine/pkg/metrics"
	"github.com/StudyPathAI/studypath-engine/pkg/natsutil"
)

var met = metrics.New()

var (
	mBatchesTotal = met.Counter("studypath_ingest_batches_total", "Batches committed")
	mDocsTotal    = met.Counter("studypath_ingest_docs_total", "Documents committed")
	mErrorsTotal  = met.Counter("studypath_ingest_errors_total", "Failed batches")
	mDLQTotal     = met.Counter("studypath_ingest_dlq_total", "Batches parked on the DLQ")
	mBatchDur     = met.Histogram("studypath_ingest_batch_duration_seconds", "Per-batch commit time", nil)
)

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		embedRPS    = flag.Float64("embed-rps", 10, "embedding calls per second")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	met.ServeAsync(*metricsPort)

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	log.Info("connected to NATS", "url", *natsURL)

	embedder := embed.NewOllamaClient(*ollamaURL, *ollamaModel,
		embed.WithRateLimit(*embedRPS, int(*embedRPS)+1),
	)
	log.Info("using Ollama embeddings", "model", *ollamaModel)

	store, err := docstore.Open(docstore.Config{
		QdrantAddr: *qdrantAddr,
		Embedder:   embedder,
		Logger:     log,
	})
	if err != nil {
		log.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Shutdown()
	log.Info("connected to Qdrant", "addr", *qdrantAddr)

	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Store:  &meteredStore{store: store},
		Logger: log,
	})
	if err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	dlqSub, err := natsutil.Subscribe(nc, ingest.DLQSubject, func(_ context.Context, m ingest.DLQMessage) {
		mDLQTotal.Inc()
		log.Error("batch dead-lettered",
			"collection", m.Request.Collection,
			"docs", len(m.Request.Documents),
			"retries", m.Retries,
			"cause", m.Error,
		)
	})
	if err != nil {
		log.Error("dlq subscribe failed", "error", err)
		os.Exit(1)
	}
	defer dlqSub.Unsubscribe()

	log.Info("consuming", "subject", ingest.Subject, "dlq", ingest.DLQSubject)
	<-ctx.Done()
	log.Info("shutting down")
}

// meteredStore counts batch commits around the document store.
type meteredStore struct {
	store *docstore.Store
}

func (m *meteredStore) AddDocumentsBatch(ctx context.Context, collection string, recs []domain.DocumentRecord, batchSize int) ([]string, error) {
	start := time.Now()
	ids, err := m.store.AddDocumentsBatch(ctx, collection, recs, batchSize)
	mBatchDur.Since(start)
	if err != nil {
		mErrorsTotal.Inc()
		return ids, err
	}
	mBatchesTotal.Inc()
	mDocsTotal.Add(int64(len(ids)))
	return ids, nil
}
