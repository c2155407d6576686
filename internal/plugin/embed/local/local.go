// Package local is the default embedder: a deterministic hashed
// bag-of-words projection. It needs no model download and produces
// unit-norm vectors, which keeps cosine comparisons consistent.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/watzon/mnemo/internal/registry/embed"
)

const (
	modelName = "all-minilm-l6-v2"
	dimension = 384
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &Embedder{}, nil
		},
	})
}

// Embedder hashes tokens into a fixed-dimension histogram and normalizes.
type Embedder struct{}

func (e *Embedder) ModelName() string { return modelName }

func (e *Embedder) Dimension() int { return dimension }

// Embed returns the vector for one text. Empty input yields the zero
// vector at full dimension.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	return embedOne(text), nil
}

// EmbedBatch returns one vector per input text, in order.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vector[int(h.Sum64()%uint64(dimension))]++
	}
	norm := float32(0)
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*Embedder)(nil)
