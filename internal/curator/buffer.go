// Package curator buffers conversation turns between curation passes.
package curator

import (
	"fmt"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one buffered conversation message.
type Turn struct {
	Role    Role
	Content string
}

// EstimateTokens approximates the token cost of the turn at four
// characters per token.
func (t Turn) EstimateTokens() int {
	return len(t.Content) / 4
}

// Buffer accumulates turns and enforces both a turn-count and a token
// budget, evicting the oldest turns first.
type Buffer struct {
	turns     []Turn
	maxTurns  int
	maxTokens int
}

// NewBuffer creates a bounded conversation buffer.
func NewBuffer(maxTurns, maxTokens int) *Buffer {
	return &Buffer{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
	}
}

// Push appends a turn, then drops oldest turns until both limits hold.
func (b *Buffer) Push(turn Turn) {
	b.turns = append(b.turns, turn)
	b.enforceLimits()
}

// Len returns the number of buffered turns.
func (b *Buffer) Len() int { return len(b.turns) }

// IsEmpty reports whether the buffer holds no turns.
func (b *Buffer) IsEmpty() bool { return len(b.turns) == 0 }

// Clear discards every buffered turn.
func (b *Buffer) Clear() { b.turns = nil }

// Turns returns a copy of the buffered turns, oldest first.
func (b *Buffer) Turns() []Turn {
	return append([]Turn(nil), b.turns...)
}

// PromptContext renders the buffer as the XML-ish context the curator
// prompt expects. Content is escaped so turn text cannot break the markup.
func (b *Buffer) PromptContext() string {
	if len(b.turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<conversation>\n")
	for _, t := range b.turns {
		fmt.Fprintf(&sb, "<turn role=%q>%s</turn>\n", t.Role, escapeXML(t.Content))
	}
	sb.WriteString("</conversation>")
	return sb.String()
}

func (b *Buffer) totalTokens() int {
	total := 0
	for _, t := range b.turns {
		total += t.EstimateTokens()
	}
	return total
}

func (b *Buffer) enforceLimits() {
	if b.maxTurns > 0 {
		for len(b.turns) > b.maxTurns {
			b.turns = b.turns[1:]
		}
	}
	if b.maxTokens > 0 {
		for len(b.turns) > 1 && b.totalTokens() > b.maxTokens {
			b.turns = b.turns[1:]
		}
	}
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
