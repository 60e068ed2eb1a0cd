package docstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/engine/semantic"
)

// BatchError reports a batch ingestion that failed partway. Chunks before
// Chunk are fully committed; CommittedIDs lists their document ids in input
// order so callers can decide retry or skip.
type BatchError struct {
	Collection      string
	Chunk           int
	CommittedChunks int
	CommittedIDs    []string
	Err             error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("docstore: batch into %s: chunk %d failed after %d committed: %v",
		e.Collection, e.Chunk, e.CommittedChunks, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// AddDocument embeds and upserts a single record. The returned id is the
// caller's when set, otherwise derived deterministically from the content.
func (s *Store) AddDocument(ctx context.Context, collection string, rec domain.DocumentRecord) (string, error) {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return "", err
	}
	if err := domain.ValidateRecord(rec); err != nil {
		return "", err
	}
	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	vec, err := s.embed.Embed(ctx, rec.Content)
	if err != nil {
		return "", fmt.Errorf("docstore: embed for %s: %w", collection, err)
	}
	vr := s.toVectorRecord(rec, vec)
	if err := s.ensureCollection(ctx, collection, len(vec)); err != nil {
		return "", fmt.Errorf("docstore: ensure %s: %w", collection, err)
	}
	if err := s.index.Upsert(ctx, collection, []semantic.VectorRecord{vr}); err != nil {
		return "", fmt.Errorf("docstore: add to %s: %w", collection, err)
	}
	return vr.ID, nil
}

// AddDocumentsBatch partitions records into chunks of at most batchSize
// (default 100 when zero) and issues one bulk upsert per chunk, in input
// order. Ids are returned in input order. If a chunk fails, remaining
// chunks are abandoned and the returned error is a *BatchError carrying the
// committed prefix.
func (s *Store) AddDocumentsBatch(ctx context.Context, collection string, recs []domain.DocumentRecord, batchSize int) ([]string, error) {
	if err := domain.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if err := domain.ValidateBatchSize(batchSize); err != nil {
		return nil, err
	}
	for i, rec := range recs {
		if err := domain.ValidateRecord(rec); err != nil {
			return nil, fmt.Errorf("docstore: record %d: %w", i, err)
		}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	total := (len(recs) + batchSize - 1) / batchSize
	s.log.Info("batch ingest start", "collection", collection, "docs", len(recs), "chunks", total)

	committed := make([]string, 0, len(recs))
	for chunk := 0; chunk*batchSize < len(recs); chunk++ {
		start := chunk * batchSize
		end := min(start+batchSize, len(recs))
		began := time.Now()

		ids, err := s.addChunk(ctx, collection, recs[start:end])
		if err != nil {
			return committed, &BatchError{
				Collection:      collection,
				Chunk:           chunk,
				CommittedChunks: chunk,
				CommittedIDs:    committed,
				Err:             err,
			}
		}
		committed = append(committed, ids...)
		s.log.Info("batch chunk committed",
			"collection", collection,
			"chunk", chunk+1,
			"of", total,
			"size", end-start,
			"elapsed", time.Since(began),
		)
	}
	return committed, nil
}

// addChunk embeds and upserts one chunk, returning its ids in input order.
func (s *Store) addChunk(ctx context.Context, collection string, recs []domain.DocumentRecord) ([]string, error) {
	texts := make([]string, len(recs))
	for i, rec := range recs {
		texts[i] = rec.Content
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(recs) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(recs))
	}

	records := make([]semantic.VectorRecord, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		records[i] = s.toVectorRecord(rec, vecs[i])
		ids[i] = records[i].ID
	}
	if err := s.ensureCollection(ctx, collection, len(vecs[0])); err != nil {
		return nil, fmt.Errorf("ensure: %w", err)
	}
	if err := s.index.Upsert(ctx, collection, records); err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return ids, nil
}

// toVectorRecord fills in the generated id and the ingestion timestamp.
func (s *Store) toVectorRecord(rec domain.DocumentRecord, vec []float32) semantic.VectorRecord {
	id := rec.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.Content)).String()
	}
	created := s.now().Unix()
	if v, ok := rec.Metadata[domain.MetaCreatedAt]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			created = n
		}
	}
	meta := make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		if k == domain.MetaCreatedAt {
			continue
		}
		meta[k] = v
	}
	return semantic.VectorRecord{
		ID:        id,
		Embedding: vec,
		Content:   rec.Content,
		CreatedAt: created,
		Metadata:  meta,
	}
}
