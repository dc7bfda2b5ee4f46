// Package simple provides a deterministic hash-based embedder.
//
// It produces stable vectors without any model download or network call,
// which makes it useful for development and tests. The vectors carry no
// semantic signal, so production startup rejects this variant.
package simple

import (
	"context"
	"hash/fnv"
	"math"
)

const dimensions = 512

// SimpleEmbedder generates deterministic embeddings from a text hash.
type SimpleEmbedder struct{}

// New creates a simple embedder.
func New() *SimpleEmbedder {
	return &SimpleEmbedder{}
}

// Embed creates a deterministic embedding from the text.
func (e *SimpleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	// LCG seeded by the hash, values in [-1, 1].
	vec := make([]float32, dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text in turn. There is no cheaper path for a
// hash embedder.
func (e *SimpleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *SimpleEmbedder) Dimensions() int {
	return dimensions
}

// Provider returns the variant name.
func (e *SimpleEmbedder) Provider() string {
	return "simple"
}

// normalize converts the vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
