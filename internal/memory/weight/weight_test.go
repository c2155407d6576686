package weight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/router"
)

func testMemory(w float32, access int32, ageDays float64) *model.Memory {
	m := model.NewMemory("test content", make([]float32, 384), model.TypeSemantic, model.SourceConversation)
	m.Weight = w
	m.AccessCount = access
	m.CreatedAt = time.Now().UTC().Add(-time.Duration(ageDays*24) * time.Hour)
	return m
}

func TestEffectiveFreshMemoryEqualsBase(t *testing.T) {
	m := testMemory(0.5, 0, 0)
	got := Effective(m, time.Now().UTC(), DefaultConfig())
	require.InDelta(t, 0.5, got, 0.01)
}

func TestEffectiveDecaysWithAge(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()
	prev := Effective(testMemory(0.8, 0, 0), now, cfg)
	for _, age := range []float64{1, 5, 30, 90, 365} {
		cur := Effective(testMemory(0.8, 0, age), now, cfg)
		require.Less(t, cur, prev, "age %v should decay below younger memory", age)
		prev = cur
	}
}

func TestEffectiveGrowsWithAccess(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()
	prev := Effective(testMemory(0.5, 0, 10), now, cfg)
	for _, access := range []int32{1, 5, 20, 100} {
		cur := Effective(testMemory(0.5, access, 10), now, cfg)
		require.Greater(t, cur, prev)
		prev = cur
	}
}

func TestEffectiveNonNegative(t *testing.T) {
	m := testMemory(0.1, 0, 10000)
	require.GreaterOrEqual(t, Effective(m, time.Now().UTC(), DefaultConfig()), 0.0)
}

func TestEmotionalBoost(t *testing.T) {
	require.Zero(t, EmotionalBoost("a plain sentence about files", 0.3))
	require.Greater(t, EmotionalBoost("this is amazing and wonderful", 0.3), 0.0)

	// Cap at 1 regardless of how loaded the content is.
	loaded := "love hate amazing terrible wonderful awful great bad excellent horrible " +
		"fantastic disgusting perfect worst beautiful ugly awesome dreadful brilliant pathetic"
	require.LessOrEqual(t, EmotionalBoost(loaded, 10), 1.0)
}

func TestCountEmotionalWordsCaseInsensitive(t *testing.T) {
	require.Equal(t, 2, CountEmotionalWords("AMAZING and Terrible"))
}

func TestInitialWeightClamped(t *testing.T) {
	// Many entities + strong valence + manual bonus clamps at 1.0.
	out := &router.Output{EmotionalValence: 1}
	for i := 0; i < 20; i++ {
		out.Entities = append(out.Entities, router.Entity{Text: "e", Label: router.LabelMisc})
	}
	require.Equal(t, float32(1.0), Initial(out, model.SourceManual))

	// Plain input never drops below 0.1.
	require.GreaterOrEqual(t, Initial(&router.Output{}, model.SourceFile), float32(0.1))
}

func TestInitialWeightSourceBonus(t *testing.T) {
	out := &router.Output{}
	conv := Initial(out, model.SourceConversation)
	file := Initial(out, model.SourceFile)
	manual := Initial(out, model.SourceManual)
	require.InDelta(t, 0.1, conv-file, 1e-6)
	require.InDelta(t, 0.3, manual-file, 1e-6)
}
