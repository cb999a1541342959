package embedding

import "github.com/cespare/xxhash/v2"

const defaultDimension = 4096

// HashingEmbedder maps each token to a bucket with xxhash and counts
// occurrences. No model file is required.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a hashing embedder with dim buckets
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = defaultDimension
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dim)
	for _, tok := range Tokenize(text) {
		vec[xxhash.Sum64String(tok)%uint64(e.dim)]++
	}
	return vec
}

func (e *HashingEmbedder) Name() string { return "hashing" }

func (e *HashingEmbedder) Dimension() int { return e.dim }

func (e *HashingEmbedder) Close() error { return nil }
