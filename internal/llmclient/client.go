// Package llmclient implements the outbound LLM chat endpoint (spec §6.1):
// an OpenAI-compatible POST {base_url}/chat/completions client used by the
// Triple Extraction Adapter and by ASM summarization.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Client is the abstract surface the rest of the system depends on; tests
// substitute a fake that returns canned JSON.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// Message is one OpenAI-style chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// HTTPClient talks to any OpenAI-compatible chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a client. baseURL should not include the trailing
// "/chat/completions" path; it is appended per-request.
func NewHTTPClient(baseURL, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends messages and returns the assistant's reply with any
// <think>...</think> reasoning block stripped (including an unclosed
// block running to the end of the text).
func (c *HTTPClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llmclient: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llmclient: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llmclient: no choices returned")
	}

	return StripThink(parsed.Choices[0].Message.Content), nil
}

var (
	thinkClosed = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpen   = regexp.MustCompile(`(?s)<think>.*$`)
)

// StripThink removes <think>...</think> reasoning wrappers, including an
// unclosed block that runs to the end of the string.
func StripThink(s string) string {
	s = thinkClosed.ReplaceAllString(s, "")
	s = thinkOpen.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
