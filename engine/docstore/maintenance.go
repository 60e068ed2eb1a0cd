package docstore

import (
	"context"
	"fmt"
	"math"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
)

// statsSampleSize is how many documents are scanned to estimate sizes.
const statsSampleSize = 10

// cleanupPageSize bounds one scroll page during cleanup.
const cleanupPageSize = 256

// GetCollectionStats reports document count, size estimates from a content
// sample, and the process-lifetime search counters.
func (s *Store) GetCollectionStats(ctx context.Context, collection string) (domain.CollectionStats, error) {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return domain.CollectionStats{}, err
	}
	if err := s.ensureOpen(); err != nil {
		return domain.CollectionStats{}, err
	}

	count, err := s.index.Count(ctx, collection)
	if err != nil {
		return domain.CollectionStats{}, fmt.Errorf("docstore: stats %s: %w", collection, err)
	}

	var avg float64
	if count > 0 {
		sample, _, err := s.index.Scroll(ctx, collection, nil, statsSampleSize, "")
		if err != nil {
			return domain.CollectionStats{}, fmt.Errorf("docstore: stats sample %s: %w", collection, err)
		}
		if len(sample) > 0 {
			total := 0
			for _, h := range sample {
				total += len(h.Content)
			}
			avg = float64(total) / float64(len(sample))
		}
	}

	counters := s.stats(collection)
	searches := counters.searches.Load()
	hits := counters.cacheHits.Load()
	hitRate := 0.0
	if searches > 0 {
		hitRate = float64(hits) / float64(searches)
	}

	return domain.CollectionStats{
		Collection:       collection,
		DocumentCount:    count,
		AvgDocumentBytes: avg,
		EstimatedTotalKB: float64(count) * avg / 1024,
		SearchCount:      searches,
		CacheHits:        hits,
		CacheHitRate:     hitRate,
	}, nil
}

// CleanupOldEmbeddings deletes every record ingested more than daysOld days
// ago and returns the count deleted. Safe to run concurrently with searches.
func (s *Store) CleanupOldEmbeddings(ctx context.Context, collection string, daysOld int) (int, error) {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if daysOld < 0 {
		return 0, domain.NewValidationError("days_old", fmt.Sprint(daysOld), domain.ErrInvalidArgument)
	}
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -daysOld).Unix()
	old := domain.Range(domain.MetaCreatedAt, math.Inf(-1), float64(cutoff))

	// Collect the full id set before deleting so the scroll cursor never
	// walks a mutating collection.
	var ids []string
	cursor := ""
	for {
		hits, next, err := s.index.Scroll(ctx, collection, []domain.Filter{old}, cleanupPageSize, cursor)
		if err != nil {
			return 0, fmt.Errorf("docstore: cleanup scan %s: %w", collection, err)
		}
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	for start := 0; start < len(ids); start += cleanupPageSize {
		end := min(start+cleanupPageSize, len(ids))
		if err := s.index.Delete(ctx, collection, ids[start:end]); err != nil {
			return start, fmt.Errorf("docstore: cleanup delete %s: %w", collection, err)
		}
	}
	if len(ids) > 0 {
		s.log.Info("cleanup removed old documents", "collection", collection, "deleted", len(ids), "days_old", daysOld)
	}
	return len(ids), nil
}

// DeleteDocument removes one record by id. Deleting a missing id reports
// domain.ErrNotFound, unlike read paths which stay silent.
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return err
	}
	if id == "" {
		return domain.NewValidationError("id", id, domain.ErrInvalidArgument)
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}

	hits, err := s.index.Fetch(ctx, collection, []string{id})
	if err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	if len(hits) == 0 {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, domain.ErrNotFound)
	}
	if err := s.index.Delete(ctx, collection, []string{id}); err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ClearCollection drops every document in the collection. The collection is
// recreated lazily on next use.
func (s *Store) ClearCollection(ctx context.Context, collection string) error {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.index.Drop(ctx, collection); err != nil {
		return fmt.Errorf("docstore: clear %s: %w", collection, err)
	}
	s.mu.Lock()
	delete(s.ensured, collection)
	s.mu.Unlock()
	return nil
}
