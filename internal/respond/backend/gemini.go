package backend

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/respond"
)

type Gemini struct {
	credential
	model       string
	baseURL     string
	maxTokens   int
	temperature float64

	mu        sync.Mutex
	client    *genai.Client
	clientKey string
}

func NewGemini(cfg config.BackendConfig) *Gemini {
	g := &Gemini{
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	if g.model == "" {
		g.model = config.DefaultGeminiModel
	}
	g.SetAPIKey(cfg.APIKey)
	return g
}

func (g *Gemini) Name() string { return config.BackendGemini }

// clientFor rebuilds the client when the key has changed since the last
// call.
func (g *Gemini) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.clientKey == key {
		return g.client, nil
	}
	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client, g.clientKey = client, key
	return client, nil
}

func (g *Gemini) Generate(ctx context.Context, system, user string) (string, error) {
	key := g.get()
	if key == "" {
		return "", respond.ErrNoCredentials
	}
	client, err := g.clientFor(ctx, key)
	if err != nil {
		return "", err
	}

	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if g.temperature > 0 {
		gc.Temperature = genai.Ptr(float32(g.temperature))
	}
	if g.maxTokens > 0 {
		gc.MaxOutputTokens = int32(g.maxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(user), gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
