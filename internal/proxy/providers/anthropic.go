package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Anthropic handles the messages-API shape: a top-level system string and
// content blocks that may be strings or typed arrays.
type Anthropic struct{}

func (Anthropic) Kind() Kind { return KindAnthropic }

// ExtractQuery returns the last user message's text. Content may be a
// string or an array of typed blocks; the first text block wins.
func (Anthropic) ExtractQuery(body []byte) string {
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
		raw := req.Messages[i].Content
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &blocks); err == nil {
			for _, b := range blocks {
				if b.Type == "text" {
					return b.Text
				}
			}
		}
		return ""
	}
	return ""
}

// InjectMemories appends the block to the top-level system string, creating
// it when missing.
func (Anthropic) InjectMemories(body []byte, block string) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("anthropic inject: parse body: %w", err)
	}

	system := ""
	if raw, ok := payload["system"]; ok {
		_ = json.Unmarshal(raw, &system)
	}
	if strings.TrimSpace(system) == "" {
		system = block
	} else {
		system = system + "\n\n" + block
	}

	raw, err := json.Marshal(system)
	if err != nil {
		return nil, err
	}
	payload["system"] = raw
	return json.Marshal(payload)
}

// ExtractResponseContent concatenates text from every text content block;
// tool_use and other block types are ignored.
func (Anthropic) ExtractResponseContent(body []byte) string {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ExtractStreamContent accumulates text_delta payloads; "message_stop" is
// the terminal event.
func (Anthropic) ExtractStreamContent(raw string) (string, bool, int) {
	var sb strings.Builder
	complete := false
	events := 0
	for _, ev := range ParseSSE(raw) {
		if ev.Data != "" {
			events++
		}
		if ev.Event == "message_stop" {
			complete = true
			continue
		}
		if ev.Data == "" {
			continue
		}
		var chunk struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if chunk.Type == "message_stop" {
			complete = true
		}
		if chunk.Delta.Type == "text_delta" {
			sb.WriteString(chunk.Delta.Text)
		}
	}
	return sb.String(), complete, events
}

var _ Provider = Anthropic{}
