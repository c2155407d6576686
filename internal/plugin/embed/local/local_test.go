package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbedDimension(t *testing.T) {
	e := &Embedder{}
	v, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, v, 384)
}

func TestEmbedDeterministic(t *testing.T) {
	e := &Embedder{}
	a, err := e.Embed(context.Background(), "the same input text")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the same input text")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestEmbedEmptyInputFullLength(t *testing.T) {
	e := &Embedder{}
	v, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, v, 384)
}

func TestEmbedUnitNorm(t *testing.T) {
	e := &Embedder{}
	v, err := e.Embed(context.Background(), "some text with several words")
	require.NoError(t, err)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-3)
}

func TestEmbedBatchOrder(t *testing.T) {
	e := &Embedder{}
	batch, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	a, _ := e.Embed(context.Background(), "alpha")
	b, _ := e.Embed(context.Background(), "beta")
	require.Equal(t, a, batch[0])
	require.Equal(t, b, batch[1])
	require.NotEqual(t, batch[0], batch[1])
}
