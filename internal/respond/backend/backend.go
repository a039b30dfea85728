// Package backend holds the text-generation backends tried by the respond
// pipeline.
package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/respond"
)

// New builds the backend of the given kind.
func New(kind string, cfg config.BackendConfig) (respond.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case config.BackendGemini:
		return NewGemini(cfg), nil
	case config.BackendOpenAI:
		return NewOpenAI(cfg), nil
	case config.BackendAnthropic:
		return NewAnthropic(cfg), nil
	case config.BackendGroq:
		return NewGroq(cfg), nil
	case config.BackendOpenRouter:
		return NewOpenRouter(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// Build returns the configured backend chain in order. Backends without an
// API key are still included; they decline until a key is set.
func Build(cfg *config.Config) ([]respond.Generator, error) {
	out := make([]respond.Generator, 0, len(cfg.Backends.Order))
	seen := make(map[string]bool)
	for _, kind := range cfg.Backends.Order {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		bc, _ := cfg.Backend(kind)
		g, err := New(kind, bc)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// credential is an API key that admin commands may replace at runtime.
type credential struct {
	mu  sync.RWMutex
	key string
}

func (c *credential) get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

func (c *credential) SetAPIKey(key string) {
	c.mu.Lock()
	c.key = strings.TrimSpace(key)
	c.mu.Unlock()
}

func (c *credential) Configured() bool {
	return c.get() != ""
}
