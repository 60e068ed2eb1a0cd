package docstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/pkg/cache"
)

// SearchDocuments embeds the query and returns the page
// [offset, offset+topK) of candidates sorted by descending relevance, ties
// stable in index order. topK zero means DefaultTopK. Fewer than offset
// candidates yields an empty slice, never an error.
func (s *Store) SearchDocuments(ctx context.Context, collection, query string, filters []domain.Filter, topK, offset int) ([]domain.SearchResult, error) {
	if topK == 0 {
		topK = DefaultTopK
	}
	if err := domain.ValidateSearch(query, topK, offset); err != nil {
		return nil, err
	}
	if err := domain.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if err := domain.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.search(ctx, collection, query, filters, topK, offset, 0)
}

// search is the shared retrieval path. minRelevance filtering happens
// before pagination so every page sees the same candidate list.
func (s *Store) search(ctx context.Context, collection, query string, filters []domain.Filter, topK, offset int, minRelevance float64) ([]domain.SearchResult, error) {
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("docstore: embed query: %w", err)
	}

	hits, err := s.index.Query(ctx, collection, vec, topK+offset, filters)
	if err != nil {
		return nil, fmt.Errorf("docstore: search %s: %w", collection, err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		// Guard for backends without native filter push-down.
		if !domain.MatchesAll(filters, h.Metadata) {
			continue
		}
		score := normalizeScore(h.Score)
		if float64(score) < minRelevance {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:       h.ID,
			Content:  h.Content,
			Metadata: h.Metadata,
			Score:    score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if offset >= len(results) {
		return []domain.SearchResult{}, nil
	}
	return results[offset:min(offset+topK, len(results)):len(results)], nil
}

// HybridSearch adds query normalization, relevance filtering, and result
// memoization atop SearchDocuments. With useCache a hit short-circuits the
// whole path including embedding; staleness is bounded by the configured
// TTL, so callers needing strong freshness pass useCache=false.
func (s *Store) HybridSearch(ctx context.Context, collection, query string, filters []domain.Filter, topK, offset int, minRelevance float64, useCache bool) ([]domain.SearchResult, error) {
	if topK == 0 {
		topK = DefaultTopK
	}
	if err := domain.ValidateSearch(query, topK, offset); err != nil {
		return nil, err
	}
	if err := domain.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if err := domain.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if minRelevance < 0 || minRelevance > 1 {
		return nil, domain.NewValidationError("min_relevance", fmt.Sprint(minRelevance), domain.ErrInvalidArgument)
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	counters := s.stats(collection)
	counters.searches.Add(1)

	normalized := normalizeQuery(query)
	var key string
	if useCache && s.cache != nil {
		key = cache.Key("hybrid_search", collection, normalized, filters, topK, offset, minRelevance)
		if results, ok := cache.GetJSON[[]domain.SearchResult](ctx, s.cache, key); ok {
			counters.cacheHits.Add(1)
			s.log.Debug("hybrid search cache hit", "collection", collection, "key", key[:8])
			return results, nil
		}
	}

	results, err := s.search(ctx, collection, normalized, filters, topK, offset, minRelevance)
	if err != nil {
		return nil, err
	}

	if useCache && s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, results, s.ttl); err != nil {
			// Cache failures never fail a successful search.
			s.log.Warn("hybrid search cache set failed", "collection", collection, "err", err)
		}
	}
	return results, nil
}

// normalizeScore maps the index's cosine similarity, nominally in [-1,1],
// onto the [0,1] relevance scale.
func normalizeScore(s float32) float32 {
	r := (s + 1) / 2
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
