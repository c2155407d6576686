package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAI handles the chat-completions shape: a messages array with string
// contents and a system message carried in-band.
type OpenAI struct{}

func (OpenAI) Kind() Kind { return KindOpenAI }

// ExtractQuery returns the content of the last user-role message.
func (OpenAI) ExtractQuery(body []byte) string {
	var req struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		var s string
		if err := json.Unmarshal(req.Messages[i].Content, &s); err == nil {
			return s
		}
		return ""
	}
	return ""
}

// InjectMemories appends the block to the first system message, replaces an
// empty one, or prepends a new system message when none exists.
func (OpenAI) InjectMemories(body []byte, block string) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("openai inject: parse body: %w", err)
	}
	var messages []map[string]json.RawMessage
	if raw, ok := payload["messages"]; ok {
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("openai inject: parse messages: %w", err)
		}
	}

	injected := false
	for _, msg := range messages {
		var role string
		_ = json.Unmarshal(msg["role"], &role)
		if role != "system" {
			continue
		}
		var existing string
		_ = json.Unmarshal(msg["content"], &existing)
		if strings.TrimSpace(existing) == "" {
			existing = block
		} else {
			existing = existing + "\n\n" + block
		}
		content, err := json.Marshal(existing)
		if err != nil {
			return nil, err
		}
		msg["content"] = content
		injected = true
		break
	}
	if !injected {
		role, _ := json.Marshal("system")
		content, err := json.Marshal(block)
		if err != nil {
			return nil, err
		}
		messages = append([]map[string]json.RawMessage{{
			"role":    role,
			"content": content,
		}}, messages...)
	}

	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	payload["messages"] = rawMessages
	return json.Marshal(payload)
}

// ExtractResponseContent reads choices[0].message.content.
func (OpenAI) ExtractResponseContent(body []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// ExtractStreamContent accumulates choices[0].delta.content across data
// events; "data: [DONE]" is the terminal marker.
func (OpenAI) ExtractStreamContent(raw string) (string, bool, int) {
	var sb strings.Builder
	complete := false
	events := 0
	for _, payload := range SSEDataPayloads(raw) {
		events++
		if payload == DoneMarker {
			complete = true
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	return sb.String(), complete, events
}

var _ Provider = OpenAI{}
