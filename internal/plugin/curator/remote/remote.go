// Package remote curates conversations with an OpenAI-compatible chat
// completion endpoint. The model classifies whether a conversation holds
// anything worth keeping and extracts pre-typed memory objects.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/model"
	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
)

const (
	maxRetries = 3
	baseDelay  = time.Second
)

func init() {
	registrycurator.Register(registrycurator.Plugin{
		Name:   "remote",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycurator.Curator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.CuratorAPIURL == "" {
		return nil, fmt.Errorf("remote curator: api url is required")
	}
	apiKey := os.Getenv(cfg.CuratorAPIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("remote curator: %s is not set", cfg.CuratorAPIKeyEnv)
	}
	return &Curator{
		apiURL: strings.TrimRight(cfg.CuratorAPIURL, "/"),
		apiKey: apiKey,
		model:  cfg.CuratorModel,
		client: &http.Client{Timeout: time.Duration(cfg.CuratorTimeoutSecs) * time.Second},
	}, nil
}

// Curator talks to the remote classification/extraction model.
type Curator struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

const classifyPrompt = `You are a memory curator. Decide whether the conversation below contains
durable facts, preferences, or events worth remembering long-term.
Answer with exactly YES or NO.

%s`

const extractPrompt = `You are a memory curator. Extract long-term memories from the conversation
below. Respond with a JSON array; each element has the fields
"memory_type" (episodic|semantic|procedural), "content" (string),
"importance" (0..1), and "entities" (array of strings).
Respond with [] when there is nothing worth keeping.

%s`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callAPI posts one prompt, retrying HTTP 429 with exponential backoff
// (1s, 2s, 4s; three attempts).
func (c *Curator) callAPI(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.apiURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("curator request failed: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("curator: read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("curator: rate limited (429)")
			delay := baseDelay << attempt
			log.Warn("Curator: rate limited, retrying", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("curator: unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("curator: parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("curator: api error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("curator: empty response")
		}
		return parsed.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

func (c *Curator) classify(ctx context.Context, conversation string) (bool, error) {
	answer, err := c.callAPI(ctx, fmt.Sprintf(classifyPrompt, conversation))
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES"), nil
}

func (c *Curator) extract(ctx context.Context, conversation string) ([]registrycurator.CuratedMemory, error) {
	answer, err := c.callAPI(ctx, fmt.Sprintf(extractPrompt, conversation))
	if err != nil {
		return nil, err
	}

	// Models sometimes wrap JSON in a code fence; strip it.
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")

	var raw []struct {
		MemoryType string   `json:"memory_type"`
		Content    string   `json:"content"`
		Importance float32  `json:"importance"`
		Entities   []string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(answer)), &raw); err != nil {
		return nil, fmt.Errorf("curator: parse extraction: %w", err)
	}

	out := make([]registrycurator.CuratedMemory, 0, len(raw))
	for _, r := range raw {
		typ, err := model.ParseMemoryType(strings.ToLower(r.MemoryType))
		if err != nil {
			typ = model.TypeSemantic
		}
		importance := r.Importance
		if importance < 0 {
			importance = 0
		}
		if importance > 1 {
			importance = 1
		}
		out = append(out, registrycurator.CuratedMemory{
			Type:       typ,
			Content:    r.Content,
			Importance: importance,
			Entities:   r.Entities,
		})
	}
	return out, nil
}

// Curate classifies first and extracts only when the classifier says yes.
func (c *Curator) Curate(ctx context.Context, conversation string) (*registrycurator.Result, error) {
	shouldStore, err := c.classify(ctx, conversation)
	if err != nil {
		return nil, err
	}
	if !shouldStore {
		return &registrycurator.Result{ShouldStore: false, Reason: "classifier declined"}, nil
	}
	memories, err := c.extract(ctx, conversation)
	if err != nil {
		return nil, err
	}
	return &registrycurator.Result{
		ShouldStore: len(memories) > 0,
		Memories:    memories,
		Reason:      "classifier accepted",
	}, nil
}

// Available probes the endpoint with a cheap request.
func (c *Curator) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (c *Curator) Name() string { return "remote" }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ registrycurator.Curator = (*Curator)(nil)
