package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/StudyPathAI/studypath-engine/engine/docstore"
	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/engine/ingest"
	"github.com/StudyPathAI/studypath-engine/pkg/cache"
	"github.com/StudyPathAI/studypath-engine/pkg/metrics"
	"github.com/StudyPathAI/studypath-engine/pkg/natsutil"
)

// server bundles the handler dependencies.
type server struct {
	store     *docstore.Store
	cache     cache.Store
	nc        *nats.Conn
	log       *slog.Logger
	ingested  *metrics.Counter
	searches  *metrics.Counter
	searchDur *metrics.Histogram
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps domain errors onto HTTP status codes.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	var batchErr *docstore.BatchError
	switch {
	case errors.As(err, &batchErr):
		s.log.Error("batch partially committed", "err", err, "committed", len(batchErr.CommittedIDs))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":         "batch failed after partial commit",
			"committed_ids": batchErr.CommittedIDs,
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var rec domain.DocumentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.store.AddDocument(r.Context(), r.PathValue("collection"), rec)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.ingested.Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// batchRequest is the JSON body for batch add and async ingest.
type batchRequest struct {
	Documents []domain.DocumentRecord `json:"documents"`
	BatchSize int                     `json:"batch_size,omitempty"`
}

func (s *server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ids, err := s.store.AddDocumentsBatch(r.Context(), r.PathValue("collection"), req.Documents, req.BatchSize)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.ingested.Add(int64(len(ids)))
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

// handleEnqueue hands a batch to the ingestion worker instead of blocking
// the request on embedding the whole set.
func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := ingest.Request{
		Collection: r.PathValue("collection"),
		BatchSize:  req.BatchSize,
		Documents:  req.Documents,
	}
	if err := natsutil.Publish(r.Context(), s.nc, ingest.Subject, msg); err != nil {
		s.log.Error("ingest enqueue failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "ingest queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":     len(req.Documents),
		"collection": msg.Collection,
	})
}

// searchRequest is the JSON body for both search endpoints. MinRelevance
// and UseCache only apply to the hybrid endpoint.
type searchRequest struct {
	Query        string          `json:"query"`
	TopK         int             `json:"top_k,omitempty"`
	Offset       int             `json:"offset,omitempty"`
	Filters      []domain.Filter `json:"filters,omitempty"`
	MinRelevance float64         `json:"min_relevance,omitempty"`
	UseCache     *bool           `json:"use_cache,omitempty"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	results, err := s.store.SearchDocuments(r.Context(), r.PathValue("collection"), req.Query, req.Filters, req.TopK, req.Offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.searches.Inc()
	s.searchDur.Since(start)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	useCache := req.UseCache == nil || *req.UseCache

	start := time.Now()
	results, err := s.store.HybridSearch(r.Context(), r.PathValue("collection"), req.Query, req.Filters, req.TopK, req.Offset, req.MinRelevance, useCache)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.searches.Inc()
	s.searchDur.Since(start)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetCollectionStats(r.Context(), r.PathValue("collection"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed, err := s.store.CleanupOldEmbeddings(r.Context(), r.PathValue("collection"), req.Days)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteDocument(r.Context(), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleClearCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearCollection(r.Context(), r.PathValue("collection")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.log.Error("cache stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.ClearExpired(r.Context())
	if err != nil {
		s.log.Error("cache sweep failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.ClearAll(r.Context())
	if err != nil {
		s.log.Error("cache clear failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
