package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/StudyPathAI/studypath-engine/pkg/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	var gotReq ollamaEmbedReq
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{0.25, -0.5}})
	})

	c := NewOllamaClient(srv.URL, "test-model", WithHTTPClient(srv.Client()))
	vec, err := c.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if gotReq.Model != "test-model" || gotReq.Prompt != "some text" {
		t.Errorf("request = %+v", gotReq)
	}
	if len(vec) != 2 || vec[0] != 0.25 || vec[1] != -0.5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedErrorStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	c := NewOllamaClient(srv.URL, "missing", WithHTTPClient(srv.Client()))
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error on non-200")
	}
}

func TestEmbedBatchOrderAndFailureIndex(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var req ollamaEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{float64(len(req.Prompt))}})
	})

	c := NewOllamaClient(srv.URL, "m", WithHTTPClient(srv.Client()))

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vecs = %v, want per-input order", vecs)
	}

	if _, err := c.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("expected batch failure")
	}
}

func TestEmbedBreakerFailsFast(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	})

	c := NewOllamaClient(srv.URL, "m",
		WithHTTPClient(srv.Client()),
		WithBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour}),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Embed(ctx, "text"); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Breaker tripped after 2 failures; the backend is not called again.
	_, err := c.Embed(ctx, "text")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want circuit open", err)
	}
	if calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}
