package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/respond"
)

// ChatCompletions talks to any OpenAI-compatible /chat/completions endpoint.
// It backs the groq kind. Calls are bounded by the caller's context only.
type ChatCompletions struct {
	credential
	name        string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func NewGroq(cfg config.BackendConfig) *ChatCompletions {
	c := &ChatCompletions{
		name:        config.BackendGroq,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{},
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultGroqBaseURL
	}
	if c.model == "" {
		c.model = config.DefaultGroqModel
	}
	c.SetAPIKey(cfg.APIKey)
	return c
}

func (c *ChatCompletions) Name() string { return c.name }

func (c *ChatCompletions) Generate(ctx context.Context, system, user string) (string, error) {
	key := c.get()
	if key == "" {
		return "", respond.ErrNoCredentials
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream": false,
	}
	if c.maxTokens > 0 {
		body["max_tokens"] = c.maxTokens
	}
	if c.temperature > 0 {
		body["temperature"] = c.temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s http %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", respond.ErrEmptyOutput
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
