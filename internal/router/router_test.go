package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/model"
)

func TestRouteEmptyInput(t *testing.T) {
	r := NewHeuristic()
	out, err := r.Route(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, out.Entities)
	require.Empty(t, out.Topics)
	require.Zero(t, out.EmotionalValence)

	out, err = r.Route(context.Background(), "   \n\t ")
	require.NoError(t, err)
	require.Empty(t, out.Entities)
}

func TestRouteExtractsEntities(t *testing.T) {
	r := NewHeuristic()
	out, err := r.Route(context.Background(), "I met Alice at Google in Paris")
	require.NoError(t, err)

	texts := out.EntityTexts()
	require.Contains(t, texts, "Alice")
	require.Contains(t, texts, "Google")
	require.Contains(t, texts, "Paris")
}

func TestRouteValence(t *testing.T) {
	r := NewHeuristic()

	out, err := r.Route(context.Background(), "this is amazing and wonderful")
	require.NoError(t, err)
	require.Greater(t, out.EmotionalValence, float32(0))

	out, err = r.Route(context.Background(), "this is terrible and awful")
	require.NoError(t, err)
	require.Less(t, out.EmotionalValence, float32(0))

	out, err = r.Route(context.Background(), "neutral statement about files")
	require.NoError(t, err)
	require.Zero(t, out.EmotionalValence)
}

func TestRouteValenceRange(t *testing.T) {
	r := NewHeuristic()
	out, err := r.Route(context.Background(), "amazing amazing amazing wonderful great love")
	require.NoError(t, err)
	require.LessOrEqual(t, out.EmotionalValence, float32(1))
	require.GreaterOrEqual(t, out.EmotionalValence, float32(-1))
}

func TestRouteSearchTypes(t *testing.T) {
	r := NewHeuristic()

	out, err := r.Route(context.Background(), "what happened yesterday")
	require.NoError(t, err)
	require.Contains(t, out.SearchTypes, model.TypeEpisodic)
	require.Contains(t, out.SearchTypes, model.TypeSemantic)

	out, err = r.Route(context.Background(), "how to install the compiler")
	require.NoError(t, err)
	require.Contains(t, out.SearchTypes, model.TypeProcedural)
}

func TestRouteDeterministic(t *testing.T) {
	r := NewHeuristic()
	a, err := r.Route(context.Background(), "Alice loves hiking near Denver")
	require.NoError(t, err)
	b, err := r.Route(context.Background(), "Alice loves hiking near Denver")
	require.NoError(t, err)
	require.Equal(t, a, b)
}
