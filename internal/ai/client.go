package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible API: /embeddings for vectors and
// /chat/completions for answer synthesis. It is stateless apart from the
// shared http.Client; retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// NewClientWithHTTP allows injecting the transport, mainly for tests.
func NewClientWithHTTP(httpClient *http.Client) *Client {
	if httpClient == nil {
		return NewClient()
	}
	return &Client{httpClient: httpClient}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError is a non-2xx answer from the API, kept as a typed error so
// callers can tell a rate limit from a rejected request.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("response status %d from %s: %s", e.StatusCode, e.Path, e.Body)
}

// IsTransient reports whether an API error is worth retrying: rate limits,
// timeouts, and server-side failures. Client-side rejections (4xx) are
// permanent; retrying them burns quota for the same answer.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode == http.StatusRequestTimeout:
		return true
	case apiErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ChatConfig holds API settings for chat completion.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Complete sends a non-streaming chat completion and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	reqBody := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"temperature": 0,
		"stream":      false,
	}

	raw, err := c.post(ctx, cfg.BaseURL, cfg.APIKey, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, baseURL, apiKey, path string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(raw)}
	}
	return raw, nil
}
