package proxy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/memory/retrieval"
	"github.com/watzon/mnemo/internal/model"
)

func retrieved(content string, typ model.MemoryType, created time.Time) retrieval.Retrieved {
	m := model.NewMemory(content, make([]float32, 4), typ, model.SourceConversation)
	m.CreatedAt = created
	return retrieval.Retrieved{Memory: m}
}

func TestRenderMemoryBlockEmpty(t *testing.T) {
	require.Empty(t, RenderMemoryBlock(nil))
}

func TestRenderMemoryBlockFormat(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	block := RenderMemoryBlock([]retrieval.Retrieved{
		retrieved("remembers the first thing", model.TypeEpisodic, created),
		retrieved("remembers the second thing", model.TypeSemantic, created),
	})

	require.True(t, strings.HasPrefix(block, "<mnemo-memories>"))
	require.True(t, strings.HasSuffix(block, "</mnemo-memories>"))
	require.Contains(t, block, `<memory timestamp="2025-06-01" type="episodic">`)
	require.Contains(t, block, `<memory timestamp="2025-06-01" type="semantic">`)
	require.Contains(t, block, "remembers the first thing")
	require.Contains(t, block, "remembers the second thing")
}

func TestTruncateToBudgetKeepsPrefix(t *testing.T) {
	now := time.Now().UTC()
	// Each memory: 15 overhead + 400/4 = 115 tokens; wrapper 10.
	memories := []retrieval.Retrieved{
		retrieved(strings.Repeat("a", 400), model.TypeSemantic, now),
		retrieved(strings.Repeat("b", 400), model.TypeSemantic, now),
		retrieved(strings.Repeat("c", 400), model.TypeSemantic, now),
	}

	kept := TruncateToBudget(memories, 250)
	require.Len(t, kept, 2)
	require.Contains(t, kept[0].Memory.Content, "a")
	require.Contains(t, kept[1].Memory.Content, "b")

	require.Len(t, TruncateToBudget(memories, 10000), 3)
	require.Empty(t, TruncateToBudget(memories, 0))
	require.Empty(t, TruncateToBudget(memories, 20))
}
