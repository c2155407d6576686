package proxy

import (
	"fmt"
	"strings"

	"github.com/watzon/mnemo/internal/memory/retrieval"
)

// Token budget approximation: four characters per token, plus fixed
// overhead for the wrapper and for each memory's markup.
const (
	charsPerToken     = 4
	wrapperOverhead   = 10
	perMemoryOverhead = 15
)

// RenderMemoryBlock renders retrieved memories as the XML block spliced
// into the upstream system prompt.
func RenderMemoryBlock(memories []retrieval.Retrieved) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<mnemo-memories>\n")
	for _, r := range memories {
		fmt.Fprintf(&sb, "<memory timestamp=%q type=%q>\n",
			r.Memory.CreatedAt.UTC().Format("2006-01-02"),
			strings.ToLower(string(r.Memory.Type)))
		sb.WriteString("  " + r.Memory.Content + "\n")
		sb.WriteString("</memory>\n")
	}
	sb.WriteString("</mnemo-memories>")
	return sb.String()
}

// TruncateToBudget keeps the longest prefix of memories that fits the
// token budget. Memories arrive in relevance order, so dropping the tail
// loses the least valuable entries.
func TruncateToBudget(memories []retrieval.Retrieved, maxTokens int) []retrieval.Retrieved {
	if maxTokens <= 0 {
		return nil
	}
	used := wrapperOverhead
	for i, r := range memories {
		cost := perMemoryOverhead + len(r.Memory.Content)/charsPerToken
		if used+cost > maxTokens {
			return memories[:i]
		}
		used += cost
	}
	return memories
}
