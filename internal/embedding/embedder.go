// Package embedding turns note text into fixed-length vectors for the vector index.
package embedding

import "context"

// Dimensions is the vector length used by the store.
const Dimensions = 384

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
