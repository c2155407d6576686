package providers

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestDetectByHost(t *testing.T) {
	require.Equal(t, KindAnthropic, Detect(mustURL(t, "https://api.anthropic.com/v1/messages")).Kind())
	require.Equal(t, KindAnthropic, Detect(mustURL(t, "https://anthropic.com/v1/messages")).Kind())
	require.Equal(t, KindOpenAI, Detect(mustURL(t, "https://api.openai.com/v1/chat/completions")).Kind())
	require.Equal(t, KindOpenAI, Detect(mustURL(t, "https://example.com/v1")).Kind())
	require.Equal(t, KindOpenAI, Detect(nil).Kind())
}

func TestDetectByQueryParam(t *testing.T) {
	require.Equal(t, KindAnthropic, Detect(mustURL(t, "https://example.com/v1?provider=anthropic")).Kind())
	require.Equal(t, KindOpenAI, Detect(mustURL(t, "https://api.anthropic.com/v1?provider=openai")).Kind())
}

func TestOpenAIExtractQuery(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"system","content":"be nice"},
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"an answer"},
		{"role":"user","content":"second question"}]}`)
	require.Equal(t, "second question", OpenAI{}.ExtractQuery(body))

	require.Empty(t, OpenAI{}.ExtractQuery([]byte(`not json`)))
	require.Empty(t, OpenAI{}.ExtractQuery([]byte(`{"messages":[]}`)))
}

func TestOpenAIInjectAppendsToSystem(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"system","content":"base"},{"role":"user","content":"q"}]}`)
	out, err := OpenAI{}.InjectMemories(body, "<mnemo-memories>block</mnemo-memories>")
	require.NoError(t, err)

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	require.Equal(t, "gpt-4", req.Model)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, "base\n\n<mnemo-memories>block</mnemo-memories>", req.Messages[0].Content)
}

func TestOpenAIInjectReplacesEmptySystem(t *testing.T) {
	body := []byte(`{"messages":[{"role":"system","content":""},{"role":"user","content":"q"}]}`)
	out, err := OpenAI{}.InjectMemories(body, "block")
	require.NoError(t, err)

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	require.Equal(t, "block", req.Messages[0].Content)
}

func TestOpenAIInjectPrependsWhenNoSystem(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"q"}]}`)
	out, err := OpenAI{}.InjectMemories(body, "block")
	require.NoError(t, err)

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, "block", req.Messages[0].Content)
	require.Equal(t, "user", req.Messages[1].Role)
}

func TestOpenAIExtractResponseContent(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"the answer"}}]}`)
	require.Equal(t, "the answer", OpenAI{}.ExtractResponseContent(body))
	require.Empty(t, OpenAI{}.ExtractResponseContent([]byte(`{"choices":[]}`)))
}

func TestOpenAIExtractStreamContent(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" World\"}}]}\n\n" +
		"data: [DONE]\n\n"
	content, complete, events := OpenAI{}.ExtractStreamContent(raw)
	require.Equal(t, "Hi World", content)
	require.True(t, complete)
	require.Equal(t, 3, events)
}

func TestAnthropicExtractQueryStringContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"plain string"}]}`)
	require.Equal(t, "plain string", Anthropic{}.ExtractQuery(body))
}

func TestAnthropicExtractQueryBlockContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[
		{"type":"image","source":{}},
		{"type":"text","text":"from a block"}]}]}`)
	require.Equal(t, "from a block", Anthropic{}.ExtractQuery(body))
}

func TestAnthropicInjectCreatesSystem(t *testing.T) {
	body := []byte(`{"model":"claude","messages":[{"role":"user","content":"q"}]}`)
	out, err := Anthropic{}.InjectMemories(body, "block")
	require.NoError(t, err)

	var req struct {
		System string `json:"system"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	require.Equal(t, "block", req.System)
}

func TestAnthropicInjectAppendsToSystem(t *testing.T) {
	body := []byte(`{"system":"base","messages":[]}`)
	out, err := Anthropic{}.InjectMemories(body, "block")
	require.NoError(t, err)

	var req struct {
		System string `json:"system"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	require.Equal(t, "base\n\nblock", req.System)
}

func TestAnthropicExtractResponseContentIgnoresToolUse(t *testing.T) {
	body := []byte(`{"content":[
		{"type":"text","text":"part one"},
		{"type":"tool_use","name":"calculator"},
		{"type":"text","text":" part two"}]}`)
	require.Equal(t, "part one part two", Anthropic{}.ExtractResponseContent(body))
}

func TestAnthropicExtractStreamContent(t *testing.T) {
	raw := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	content, complete, _ := Anthropic{}.ExtractStreamContent(raw)
	require.Equal(t, "Hello", content)
	require.True(t, complete)
}

func TestParseSSESkipsComments(t *testing.T) {
	raw := ": keep-alive\n\ndata: one\n\n: another comment\ndata: two\n\n"
	events := ParseSSE(raw)
	require.Len(t, events, 2)
	require.Equal(t, "one", events[0].Data)
	require.Equal(t, "two", events[1].Data)
}

func TestParseSSEEventNames(t *testing.T) {
	raw := "event: ping\ndata: {}\n\n"
	events := ParseSSE(raw)
	require.Len(t, events, 1)
	require.Equal(t, "ping", events[0].Event)
	require.Equal(t, "{}", events[0].Data)
}
