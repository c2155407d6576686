package curator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPushAndLen(t *testing.T) {
	b := NewBuffer(10, 1000)
	require.True(t, b.IsEmpty())

	b.Push(Turn{Role: RoleUser, Content: "hello"})
	b.Push(Turn{Role: RoleAssistant, Content: "hi there"})
	require.Equal(t, 2, b.Len())
	require.False(t, b.IsEmpty())
}

func TestBufferMaxTurnsEviction(t *testing.T) {
	b := NewBuffer(3, 100000)
	for i := 0; i < 5; i++ {
		b.Push(Turn{Role: RoleUser, Content: strings.Repeat("x", i+1)})
	}
	require.Equal(t, 3, b.Len())
	// Oldest dropped first: remaining are lengths 3, 4, 5.
	turns := b.Turns()
	require.Len(t, turns[0].Content, 3)
	require.Len(t, turns[2].Content, 5)
}

func TestBufferMaxTokensEviction(t *testing.T) {
	// 100-token budget, each turn ~50 tokens (200 chars).
	b := NewBuffer(100, 100)
	for i := 0; i < 4; i++ {
		b.Push(Turn{Role: RoleUser, Content: strings.Repeat("a", 200)})
	}
	require.LessOrEqual(t, b.Len(), 2)
}

func TestBufferKeepsLastTurnEvenIfOversized(t *testing.T) {
	b := NewBuffer(10, 10)
	b.Push(Turn{Role: RoleUser, Content: strings.Repeat("a", 400)})
	require.Equal(t, 1, b.Len())
}

func TestPromptContextFormat(t *testing.T) {
	b := NewBuffer(10, 1000)
	require.Empty(t, b.PromptContext())

	b.Push(Turn{Role: RoleUser, Content: "what is go?"})
	b.Push(Turn{Role: RoleAssistant, Content: "a language"})

	ctx := b.PromptContext()
	require.True(t, strings.HasPrefix(ctx, "<conversation>"))
	require.True(t, strings.HasSuffix(ctx, "</conversation>"))
	require.Contains(t, ctx, `<turn role="user">what is go?</turn>`)
	require.Contains(t, ctx, `<turn role="assistant">a language</turn>`)
}

func TestPromptContextEscapesXML(t *testing.T) {
	b := NewBuffer(10, 1000)
	b.Push(Turn{Role: RoleUser, Content: `<script>"a" & 'b'</script>`})
	ctx := b.PromptContext()
	require.NotContains(t, ctx, "<script>")
	require.Contains(t, ctx, "&lt;script&gt;")
	require.Contains(t, ctx, "&amp;")
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(10, 1000)
	b.Push(Turn{Role: RoleUser, Content: "hello"})
	b.Clear()
	require.True(t, b.IsEmpty())
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 25, Turn{Content: strings.Repeat("x", 100)}.EstimateTokens())
}
