package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/memo/pkg/utils"
)

// signBit picks the sign of a token's contribution. It is the top bit so that
// it stays independent of the bucket, which is taken from the low bits.
const signBit = uint64(1) << 63

// HashEmbedder is a bag-of-tokens sketch: every token adds +1 or -1 to one of
// dimensions buckets chosen by a 64-bit FNV-1a hash, and the histogram is
// L2-normalised. The same text always gets the same vector, across runs and
// machines. Similarity reflects shared tokens, not meaning.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder with the given dimensions
// (Dimensions when dimensions <= 0).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = Dimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the unit-length sketch of text, or the zero vector when text
// has no tokens.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, token := range Tokenize(text) {
		h := hashToken(token)
		idx := h % uint64(e.dimensions)
		if h&signBit != 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}

func hashToken(token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}
