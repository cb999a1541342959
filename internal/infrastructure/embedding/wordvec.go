package embedding

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WordVectorEmbedder averages pre-trained word vectors over the tokens of
// a text. Out-of-vocabulary tokens are skipped.
type WordVectorEmbedder struct {
	vectors map[string][]float64
	dim     int
}

// NewWordVectorEmbedder wraps an in-memory vector table
func NewWordVectorEmbedder(vectors map[string][]float64, dim int) *WordVectorEmbedder {
	if dim <= 0 {
		for _, v := range vectors {
			dim = len(v)
			break
		}
	}
	return &WordVectorEmbedder{vectors: vectors, dim: dim}
}

// LoadWordVectorFile reads a GloVe or word2vec text-format vector file
func LoadWordVectorFile(path string) (*WordVectorEmbedder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word vectors: %w", err)
	}
	defer f.Close()

	e, err := LoadWordVectors(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return e, nil
}

// LoadWordVectors parses "word v1 v2 ... vn" lines. A leading word2vec
// header line ("count dim") is skipped.
func LoadWordVectors(r io.Reader) (*WordVectorEmbedder, error) {
	vectors := make(map[string][]float64)
	dim := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: no vector components", lineNo)
		}

		vec := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			vec[i] = v
		}

		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, fmt.Errorf("line %d: dimension %d, expected %d", lineNo, len(vec), dim)
		}
		vectors[strings.ToLower(fields[0])] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, fmt.Errorf("no vectors found")
	}

	return NewWordVectorEmbedder(vectors, dim), nil
}

func (e *WordVectorEmbedder) Embed(text string) []float64 {
	out := make([]float64, e.dim)
	n := 0
	for _, tok := range Tokenize(text) {
		vec, ok := e.vectors[tok]
		if !ok {
			continue
		}
		for i, v := range vec {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= float64(n)
	}
	return out
}

func (e *WordVectorEmbedder) Name() string { return "word-vectors" }

func (e *WordVectorEmbedder) Dimension() int { return e.dim }

// Vocabulary returns the number of known words
func (e *WordVectorEmbedder) Vocabulary() int { return len(e.vectors) }

func (e *WordVectorEmbedder) Close() error { return nil }
