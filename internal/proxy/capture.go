package proxy

import "strings"

// skipPrefixes are response openings that never become memories: error
// passthroughs and common refusals.
var skipPrefixes = []string{
	"Error:", "error:", "ERROR:",
	"I'm sorry", "I apologize", "I cannot", "I can't",
}

// WorthIngesting filters extracted assistant content before it reaches the
// ingestion pipeline.
func WorthIngesting(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < 10 {
		return false
	}
	for _, p := range skipPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return false
		}
	}
	return true
}
