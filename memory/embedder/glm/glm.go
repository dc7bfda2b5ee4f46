// Package glm provides the remote embedding adapter backed by the
// Zhipu AI embedding-3 model, reached through its OpenAI-compatible
// endpoint.
package glm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lyangfan/deepmemory/core"
)

const (
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	defaultModel   = "embedding-3"
	dimensions     = 1024

	maxRetries = 3
	retryDelay = 1 * time.Second
	cacheTTL   = 24 * time.Hour
)

// Config configures the GLM embedder.
type Config struct {
	// APIKey authenticates against the embedding endpoint.
	APIKey string

	// BaseURL overrides the Zhipu endpoint, mainly for tests.
	BaseURL string

	// Model overrides the embedding model name.
	Model string
}

// GLMEmbedder generates embeddings via the remote embedding-3 API.
// Results are cached: embedding is pure per text, and extraction plus
// retrieval frequently re-embed the same content.
type GLMEmbedder struct {
	client *openai.Client
	model  string
	cache  *ristretto.Cache
}

// New creates a GLM embedder.
func New(cfg Config) (*GLMEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding API key is required", core.ErrConfigInvalid)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &GLMEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		cache:  cache,
	}, nil
}

// Embed converts a single text to an embedding vector.
func (e *GLMEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts, serving cache hits locally and issuing a
// single API request for the rest.
func (e *GLMEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := e.embedRemote(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		out[idx] = fetched[i]
		e.cache.SetWithTTL(missTexts[i], fetched[i], int64(len(fetched[i])*4), cacheTTL)
	}
	return out, nil
}

// embedRemote calls the API with bounded exponential backoff.
func (e *GLMEmbedder) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay * time.Duration(1<<(attempt-1))
			log.Printf("[EMBED] attempt %d failed, retrying in %s: %v", attempt, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, ctx.Err())
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) != len(texts) {
			lastErr = fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
			continue
		}

		vecs := make([][]float32, len(texts))
		for _, d := range resp.Data {
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	}
	return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, lastErr)
}

// Dimensions returns the embedding size.
func (e *GLMEmbedder) Dimensions() int {
	return dimensions
}

// Provider returns the variant name.
func (e *GLMEmbedder) Provider() string {
	return "remote-llm"
}
