// Package providers adapts the proxy to the request/response shapes of the
// supported upstream APIs.
package providers

import (
	"net/url"
	"strings"
)

// Kind names a supported provider shape.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// Provider understands one API shape: where the user query lives, where to
// splice the memory block, and how to read assistant content back out of
// responses and event streams.
type Provider interface {
	Kind() Kind
	// ExtractQuery returns the last user message's text, or "" when the
	// body does not parse as this provider's chat shape.
	ExtractQuery(body []byte) string
	// InjectMemories splices the rendered memory block into the request's
	// system prompt and returns the rewritten body.
	InjectMemories(body []byte, block string) ([]byte, error)
	// ExtractResponseContent reads assistant text from a non-streamed
	// response body.
	ExtractResponseContent(body []byte) string
	// ExtractStreamContent reads assistant text from a buffered SSE
	// stream. The bool reports whether the stream carried its terminal
	// marker; the int counts data events seen.
	ExtractStreamContent(raw string) (string, bool, int)
}

// Detect picks the provider shape for a target URL: an explicit provider
// query parameter wins, then the host; OpenAI is the default.
func Detect(target *url.URL) Provider {
	if target != nil {
		if p := target.Query().Get("provider"); p != "" {
			switch Kind(strings.ToLower(p)) {
			case KindAnthropic:
				return Anthropic{}
			case KindOpenAI:
				return OpenAI{}
			}
		}
		host := strings.ToLower(target.Hostname())
		if host == "anthropic.com" || strings.HasSuffix(host, ".anthropic.com") {
			return Anthropic{}
		}
	}
	return OpenAI{}
}
