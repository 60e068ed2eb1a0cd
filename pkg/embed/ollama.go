// Package embed provides the text-to-vector boundary. The engine treats the
// embedding model as a black box: identical text must produce an identical
// vector for the lifetime of a collection.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/StudyPathAI/studypath-engine/pkg/resilience"
)

// OllamaClient computes embeddings via Ollama's HTTP API.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// Option configures an OllamaClient.
type Option func(*OllamaClient)

// WithRateLimit caps embedding calls at rps requests per second with the
// given burst. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *OllamaClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OllamaClient) { c.client = hc }
}

// WithBreaker overrides the circuit breaker options.
func WithBreaker(opts resilience.BreakerOpts) Option {
	return func(c *OllamaClient) { c.breaker = resilience.NewBreaker(opts) }
}

// NewOllamaClient creates an embedding client for the given model.
func NewOllamaClient(baseURL, model string, opts ...Option) *OllamaClient {
	c := &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text. Calls are paced by the rate
// limiter and fail fast while the breaker is open.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate wait: %w", err)
		}
	}

	var out []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.embed(ctx, text)
		return err
	})
	return out, err
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("embed: ollama: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: ollama decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds each text in order. Ollama's embeddings endpoint is
// single-prompt, so this issues one call per text; the rate limiter paces
// the sequence.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}
