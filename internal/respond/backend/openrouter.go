package backend

import (
	"context"
	"fmt"
	"sync"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openrouter"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/respond"
)

type OpenRouter struct {
	credential
	model string

	mu    sync.Mutex
	lm    fantasy.LanguageModel
	lmKey string
}

func NewOpenRouter(cfg config.BackendConfig) *OpenRouter {
	o := &OpenRouter{model: cfg.Model}
	if o.model == "" {
		o.model = config.DefaultOpenRouterModel
	}
	o.SetAPIKey(cfg.APIKey)
	return o
}

func (o *OpenRouter) Name() string { return config.BackendOpenRouter }

func (o *OpenRouter) languageModel(ctx context.Context, key string) (fantasy.LanguageModel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lm != nil && o.lmKey == key {
		return o.lm, nil
	}
	provider, err := openrouter.New(openrouter.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("create openrouter provider: %w", err)
	}
	lm, err := provider.LanguageModel(ctx, o.model)
	if err != nil {
		return nil, fmt.Errorf("get language model: %w", err)
	}
	o.lm, o.lmKey = lm, key
	return lm, nil
}

func (o *OpenRouter) Generate(ctx context.Context, system, user string) (string, error) {
	key := o.get()
	if key == "" {
		return "", respond.ErrNoCredentials
	}
	lm, err := o.languageModel(ctx, key)
	if err != nil {
		return "", err
	}

	agent := fantasy.NewAgent(lm)
	result, err := agent.Generate(ctx, fantasy.AgentCall{
		Prompt: system + "\n\n" + user,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter generate: %w", err)
	}
	return result.Response.Content.Text(), nil
}
