package memory

import (
	"context"

	"github.com/lyangfan/deepmemory/core"
)

// Embedder converts text to vector embeddings.
//
// Embed is pure within an instance's lifetime: the same text always maps
// to the same vector. Implementations: GLMEmbedder (remote API),
// ONNXEmbedder (local model, build tag onnx), SimpleEmbedder (hash-based,
// development only).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one pass. At least as
	// efficient as calling Embed in a loop.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Provider returns the variant name: "remote-llm",
	// "local-transformer" or "simple".
	Provider() string
}

// QueryFilter narrows a store query or listing. All set fields are
// AND-combined.
type QueryFilter struct {
	// MinImportance drops fragments scored below it. Zero means no floor.
	MinImportance int

	// Speaker restricts to one side of the conversation when non-empty.
	Speaker core.Speaker

	// Type restricts to one fragment category when non-empty.
	Type core.FragmentType
}

// Scored pairs a fragment with its similarity to the query text and the
// stored vector, which the retriever needs for diversity re-ranking.
type Scored struct {
	Fragment   core.Fragment
	Similarity float64
	Embedding  []float32
}

// Store is the persistent vector storage backend. Each scope is a
// logically separate partition; queries never cross scopes. The process
// is the sole writer, and implementations must be safe under concurrent
// access.
type Store interface {
	// Insert embeds and persists a fragment under the scope. The
	// fragment ID is derived from (scope, speaker, content), so
	// re-inserting the same content is a no-op.
	Insert(ctx context.Context, scope core.Scope, frag core.Fragment) (string, error)

	// Query returns up to topK fragments by vector similarity to the
	// query text, sorted by similarity descending.
	Query(ctx context.Context, scope core.Scope, query string, topK int, filter QueryFilter) ([]Scored, error)

	// Count returns the number of fragments stored under the scope.
	Count(ctx context.Context, scope core.Scope) (int, error)

	// List returns up to limit fragments ordered by insertion time
	// descending.
	List(ctx context.Context, scope core.Scope, limit int, filter QueryFilter) ([]core.Fragment, error)

	// DeleteScope removes all fragments under the scope.
	DeleteScope(ctx context.Context, scope core.Scope) error

	// Embedder returns the bound embedding adapter.
	Embedder() Embedder

	// Close releases resources.
	Close() error
}
