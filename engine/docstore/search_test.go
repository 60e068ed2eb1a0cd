package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/engine/semantic"
)

func TestSearchDocumentsOrdering(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "mid", Content: "b", Score: 0.0, Metadata: map[string]string{}},
		{ID: "best", Content: "a", Score: 0.8, Metadata: map[string]string{}},
		{ID: "worst", Content: "c", Score: -0.5, Metadata: map[string]string{}},
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)

	results, err := s.SearchDocuments(context.Background(), "docs", "query", nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ID != "best" || results[1].ID != "mid" || results[2].ID != "worst" {
		t.Errorf("order = %s,%s,%s", results[0].ID, results[1].ID, results[2].ID)
	}
	// Cosine 0.8 normalizes to 0.9.
	if results[0].Score != 0.9 {
		t.Errorf("score = %g, want 0.9", results[0].Score)
	}
	if results[2].Score != 0.25 {
		t.Errorf("score = %g, want 0.25", results[2].Score)
	}
}

func TestSearchDocumentsPagination(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "a", Score: 0.9, Metadata: map[string]string{}},
		{ID: "b", Score: 0.7, Metadata: map[string]string{}},
		{ID: "c", Score: 0.5, Metadata: map[string]string{}},
		{ID: "d", Score: 0.3, Metadata: map[string]string{}},
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)
	ctx := context.Background()

	page, err := s.SearchDocuments(ctx, "docs", "query", nil, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "b" || page[1].ID != "c" {
		t.Errorf("page = %v", page)
	}

	// Offset beyond the candidate count is empty, not an error.
	empty, err := s.SearchDocuments(ctx, "docs", "query", nil, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("want empty slice, got %v", empty)
	}
}

func TestSearchDocumentsPaginationCompleteness(t *testing.T) {
	idx := newFakeIndex()
	for i := 0; i < 6; i++ {
		idx.queryHits = append(idx.queryHits, semantic.Hit{
			ID:       string(rune('a' + i)),
			Score:    0.9 - float32(i)*0.2,
			Metadata: map[string]string{},
		})
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)
	ctx := context.Background()

	// Three pages of 2 concatenated must equal one call for all 6.
	var paged []domain.SearchResult
	for offset := 0; offset < 6; offset += 2 {
		page, err := s.SearchDocuments(ctx, "docs", "query", nil, 2, offset)
		if err != nil {
			t.Fatal(err)
		}
		paged = append(paged, page...)
	}
	whole, err := s.SearchDocuments(ctx, "docs", "query", nil, 6, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(paged) != len(whole) {
		t.Fatalf("paged = %d results, whole = %d", len(paged), len(whole))
	}
	for i := range whole {
		if paged[i].ID != whole[i].ID || paged[i].Score != whole[i].Score {
			t.Errorf("position %d: paged %s/%g, whole %s/%g",
				i, paged[i].ID, paged[i].Score, whole[i].ID, whole[i].Score)
		}
	}
}

func TestSearchDocumentsDefaultTopK(t *testing.T) {
	idx := newFakeIndex()
	for i := 0; i < 10; i++ {
		idx.queryHits = append(idx.queryHits, semantic.Hit{
			ID: string(rune('a' + i)), Score: 0.5, Metadata: map[string]string{},
		})
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)

	results, err := s.SearchDocuments(context.Background(), "docs", "query", nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != DefaultTopK {
		t.Errorf("results = %d, want default %d", len(results), DefaultTopK)
	}
}

func TestSearchDocumentsPostFilterGuard(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "keep", Score: 0.5, Metadata: map[string]string{"topic": "math"}},
		{ID: "drop", Score: 0.9, Metadata: map[string]string{"topic": "art"}},
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)

	results, err := s.SearchDocuments(context.Background(), "docs", "query",
		[]domain.Filter{domain.Eq("topic", "math")}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "keep" {
		t.Errorf("results = %v", results)
	}
}

func TestSearchDocumentsValidation(t *testing.T) {
	s := newTestStore(t, newFakeIndex(), &fakeEmbedder{}, nil)
	ctx := context.Background()

	if _, err := s.SearchDocuments(ctx, "docs", "", nil, 5, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty query: %v", err)
	}
	if _, err := s.SearchDocuments(ctx, "docs", "q", nil, -1, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("negative topK: %v", err)
	}
	if _, err := s.SearchDocuments(ctx, "docs", "q", nil, 5, -2); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("negative offset: %v", err)
	}
	bad := []domain.Filter{{Op: domain.FilterEq, Value: "x"}}
	if _, err := s.SearchDocuments(ctx, "docs", "q", bad, 5, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("bad filter: %v", err)
	}
}

func TestHybridSearchCachesResults(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{{ID: "a", Content: "text", Score: 0.6, Metadata: map[string]string{}}}
	emb := &fakeEmbedder{}
	fc := newFakeCache()
	s := newTestStore(t, idx, emb, fc)
	ctx := context.Background()

	first, err := s.HybridSearch(ctx, "docs", "find the thing", nil, 5, 0, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	callsAfterMiss := emb.embedCalls()
	if callsAfterMiss == 0 {
		t.Fatal("miss should embed")
	}

	second, err := s.HybridSearch(ctx, "docs", "find the thing", nil, 5, 0, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if emb.embedCalls() != callsAfterMiss {
		t.Error("cache hit must not embed")
	}
	if len(first) != len(second) || first[0].ID != second[0].ID || first[0].Score != second[0].Score {
		t.Errorf("cached results differ: %v vs %v", first, second)
	}

	stats, err := s.GetCollectionStats(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if stats.SearchCount != 2 || stats.CacheHits != 1 {
		t.Errorf("searches=%d hits=%d, want 2, 1", stats.SearchCount, stats.CacheHits)
	}
	if stats.CacheHitRate != 0.5 {
		t.Errorf("hit rate = %g, want 0.5", stats.CacheHitRate)
	}
}

func TestHybridSearchOffsetChangesKey(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "a", Score: 0.9, Metadata: map[string]string{}},
		{ID: "b", Score: 0.5, Metadata: map[string]string{}},
	}
	emb := &fakeEmbedder{}
	s := newTestStore(t, idx, emb, newFakeCache())
	ctx := context.Background()

	if _, err := s.HybridSearch(ctx, "docs", "query", nil, 1, 0, 0, true); err != nil {
		t.Fatal(err)
	}
	calls := emb.embedCalls()

	// Same query, different offset: must not reuse the cached page.
	if _, err := s.HybridSearch(ctx, "docs", "query", nil, 1, 1, 0, true); err != nil {
		t.Fatal(err)
	}
	if emb.embedCalls() == calls {
		t.Error("offset change should miss the cache")
	}
}

func TestHybridSearchUseCacheFalse(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{{ID: "a", Score: 0.5, Metadata: map[string]string{}}}
	fc := newFakeCache()
	s := newTestStore(t, idx, &fakeEmbedder{}, fc)
	ctx := context.Background()

	if _, err := s.HybridSearch(ctx, "docs", "query", nil, 5, 0, 0, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HybridSearch(ctx, "docs", "query", nil, 5, 0, 0, false); err != nil {
		t.Fatal(err)
	}
	if fc.sets != 0 || len(fc.data) != 0 {
		t.Error("useCache=false must bypass the cache entirely")
	}
}

func TestHybridSearchMinRelevance(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "strong", Score: 0.8, Metadata: map[string]string{}}, // 0.9 normalized
		{ID: "weak", Score: -0.4, Metadata: map[string]string{}},  // 0.3 normalized
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)

	results, err := s.HybridSearch(context.Background(), "docs", "query", nil, 5, 0, 0.5, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "strong" {
		t.Errorf("results = %v", results)
	}
}

func TestHybridSearchMinRelevanceAppliedBeforePagination(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{
		{ID: "a", Score: 0.9, Metadata: map[string]string{}},
		{ID: "cut", Score: -0.8, Metadata: map[string]string{}}, // 0.1 normalized
		{ID: "b", Score: 0.7, Metadata: map[string]string{}},
	}
	s := newTestStore(t, idx, &fakeEmbedder{}, nil)

	// Offset 1 over the post-cut list must land on "b", not "cut".
	results, err := s.HybridSearch(context.Background(), "docs", "query", nil, 5, 1, 0.5, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("results = %v", results)
	}
}

func TestHybridSearchMinRelevanceValidation(t *testing.T) {
	s := newTestStore(t, newFakeIndex(), &fakeEmbedder{}, nil)
	for _, bad := range []float64{-0.1, 1.5} {
		if _, err := s.HybridSearch(context.Background(), "docs", "q", nil, 5, 0, bad, false); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("min_relevance %g: %v", bad, err)
		}
	}
}

func TestHybridSearchCacheSetFailureIsNonFatal(t *testing.T) {
	idx := newFakeIndex()
	idx.queryHits = []semantic.Hit{{ID: "a", Score: 0.5, Metadata: map[string]string{}}}
	fc := newFakeCache()
	fc.setErr = errors.New("disk full")
	s := newTestStore(t, idx, &fakeEmbedder{}, fc)

	results, err := s.HybridSearch(context.Background(), "docs", "query", nil, 5, 0, 0, true)
	if err != nil {
		t.Fatalf("cache write failure must not fail the search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
	}{
		{"stop words stripped", "the rise of the machines", "rise machines"},
		{"lowercased", "Linear Algebra", "linear algebra"},
		{"all stop words kept", "the and of", "the and of"},
		{"plain", "vectors", "vectors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeQuery(tt.in); got != tt.want {
				t.Errorf("normalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeQueryTruncates(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := normalizeQuery(long)
	if len(got) != maxQueryLen {
		t.Errorf("len = %d, want %d", len(got), maxQueryLen)
	}
}

func TestNormalizeQueryTruncatesOnRuneBoundary(t *testing.T) {
	// A three-byte rune straddling the cut must be dropped whole rather
	// than leaving a broken trailing byte.
	long := strings.Repeat("x", maxQueryLen-2) + "世界"
	got := normalizeQuery(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) != maxQueryLen-2 {
		t.Errorf("len = %d, want %d", len(got), maxQueryLen-2)
	}
}

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{1, 1},
		{0, 0.5},
		{-1, 0},
		{1.2, 1},  // clamped
		{-1.5, 0}, // clamped
	}
	for _, tt := range tests {
		if got := normalizeScore(tt.in); got != tt.want {
			t.Errorf("normalizeScore(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}
