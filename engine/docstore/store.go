// Package docstore implements the embedding-backed document store: single
// shared index connection per process, single and batched ingestion,
// similarity and hybrid filtered search with result caching, pagination,
// collection statistics, and age-based cleanup.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/engine/semantic"
	"github.com/StudyPathAI/studypath-engine/pkg/cache"
)

// Defaults mirrored in the public operation contracts.
const (
	DefaultTopK      = 5
	DefaultBatchSize = 100
)

// Embedder is the black-box text-to-vector function. It must be
// deterministic for identical input within a collection's lifetime.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the similarity-index primitive the store sits on. Implementations
// are expected to persist across process restarts and to be safe for
// concurrent use; *semantic.VectorStore is the production implementation.
type Index interface {
	EnsureCollection(ctx context.Context, collection string, dims int) error
	Drop(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, records []semantic.VectorRecord) error
	Delete(ctx context.Context, collection string, ids []string) error
	Fetch(ctx context.Context, collection string, ids []string) ([]semantic.Hit, error)
	Query(ctx context.Context, collection string, embedding []float32, limit int, filters []domain.Filter) ([]semantic.Hit, error)
	Scroll(ctx context.Context, collection string, filters []domain.Filter, limit int, offset string) ([]semantic.Hit, string, error)
	Count(ctx context.Context, collection string) (uint64, error)
	Close() error
}

// Config configures the store. Either Index is injected directly or
// QdrantAddr names the gRPC endpoint to dial lazily.
type Config struct {
	QdrantAddr string
	Index      Index
	Embedder   Embedder
	Cache      cache.Store
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Store is the single point of access to named document collections.
type Store struct {
	mu      sync.Mutex // guards index lifecycle and the ensured set
	index   Index
	closed  bool
	ensured map[string]bool

	cfg   Config
	embed Embedder
	cache cache.Store
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time

	countersMu sync.Mutex
	counters   map[string]*collectionCounters
}

type collectionCounters struct {
	searches  atomic.Int64
	cacheHits atomic.Int64
}

var (
	sharedMu sync.Mutex
	shared   *Store
)

// Open returns the process-wide shared store, initializing it on first call.
// Concurrent first calls race safely: exactly one initialization happens.
// After Shutdown the next Open re-initializes.
func Open(cfg Config) (*Store, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return shared, nil
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	shared = s
	return s, nil
}

// New constructs an independent store. Most callers want Open; New exists
// for dependency injection and tests.
func New(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("docstore: embedder is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	idx := cfg.Index
	if idx == nil {
		if cfg.QdrantAddr == "" {
			return nil, fmt.Errorf("docstore: index or qdrant address is required")
		}
		vs, err := semantic.New(cfg.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("docstore: %w", err)
		}
		idx = vs
	}

	return &Store{
		index:    idx,
		ensured:  make(map[string]bool),
		cfg:      cfg,
		embed:    cfg.Embedder,
		cache:    cfg.Cache,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		counters: make(map[string]*collectionCounters),
	}, nil
}

// Shutdown releases the index connection. It is a resource-release hint,
// not a poison pill: subsequent operations re-initialize transparently.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ensured = make(map[string]bool)
	err := s.index.Close()

	sharedMu.Lock()
	if shared == s {
		shared = nil
	}
	sharedMu.Unlock()

	s.log.Info("docstore shutdown", "err", err)
	return err
}

// ensureOpen re-establishes the index connection after Shutdown. Must be
// called at the top of every operation.
func (s *Store) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}
	if s.cfg.QdrantAddr != "" {
		vs, err := semantic.New(s.cfg.QdrantAddr)
		if err != nil {
			return fmt.Errorf("docstore: reopen: %w", err)
		}
		s.index = vs
	}
	// An injected index has no dial parameters to recover from; its Close
	// is treated as idempotent and the handle is reused.
	s.closed = false
	s.log.Info("docstore reopened")
	return nil
}

// ensureCollection lazily creates the collection on first use.
func (s *Store) ensureCollection(ctx context.Context, collection string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[collection] {
		return nil
	}
	if err := s.index.EnsureCollection(ctx, collection, dims); err != nil {
		return err
	}
	s.ensured[collection] = true
	return nil
}

// stats returns the counter pair for a collection, creating it on demand.
func (s *Store) stats(collection string) *collectionCounters {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	c, ok := s.counters[collection]
	if !ok {
		c = &collectionCounters{}
		s.counters[collection] = c
	}
	return c
}
