// Package embedding turns product text into dense vectors for cosine comparison.
package embedding

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/lookalike/backend/internal/domain"
)

// Tokenize lowercases text and splits it on anything that is not a letter or digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Config selects and sizes the embedder
type Config struct {
	VectorsPath string
	Dimension   int
}

var (
	sharedOnce     sync.Once
	sharedEmbedder domain.TextEmbedder
	sharedErr      error
)

// Shared returns the process-wide embedder, building it on first use.
// Later calls ignore cfg.
func Shared(cfg Config) (domain.TextEmbedder, error) {
	sharedOnce.Do(func() {
		sharedEmbedder, sharedErr = New(cfg)
	})
	return sharedEmbedder, sharedErr
}

// New builds an embedder: word vectors when a vectors file is configured,
// feature hashing otherwise.
func New(cfg Config) (domain.TextEmbedder, error) {
	if cfg.VectorsPath != "" {
		return LoadWordVectorFile(cfg.VectorsPath)
	}
	return NewHashingEmbedder(cfg.Dimension), nil
}
