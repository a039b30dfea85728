package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/respond"
)

type completer interface {
	Complete(ctx context.Context, req model.Request) (*model.Response, error)
}

// SDK adapts an agentsdk-go model provider to respond.Generator.
type SDK struct {
	credential
	name     string
	newModel func(ctx context.Context, key string) (completer, error)

	mu       sync.Mutex
	mdl      completer
	modelKey string
}

func NewOpenAI(cfg config.BackendConfig) *SDK {
	if cfg.Model == "" {
		cfg.Model = config.DefaultOpenAIModel
	}
	return newSDK(config.BackendOpenAI, cfg.APIKey, func(_ context.Context, key string) (completer, error) {
		return model.NewOpenAI(model.OpenAIConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  1,
			Temperature: temperature(cfg.Temperature),
			HTTPClient:  singleAttemptClient(),
		})
	})
}

func NewAnthropic(cfg config.BackendConfig) *SDK {
	if cfg.Model == "" {
		cfg.Model = config.DefaultAnthropicModel
	}
	return newSDK(config.BackendAnthropic, cfg.APIKey, func(_ context.Context, key string) (completer, error) {
		return model.NewAnthropic(model.AnthropicConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  1,
			Temperature: temperature(cfg.Temperature),
			HTTPClient:  singleAttemptClient(),
		})
	})
}

func newSDK(name, key string, newModel func(context.Context, string) (completer, error)) *SDK {
	s := &SDK{name: name, newModel: newModel}
	s.SetAPIKey(key)
	return s
}

func temperature(t float64) *float64 {
	if t <= 0 {
		return nil
	}
	return &t
}

func (s *SDK) Name() string { return s.name }

func (s *SDK) modelFor(ctx context.Context, key string) (completer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mdl != nil && s.modelKey == key {
		return s.mdl, nil
	}
	mdl, err := s.newModel(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", s.name, err)
	}
	s.mdl, s.modelKey = mdl, key
	return mdl, nil
}

func (s *SDK) Generate(ctx context.Context, system, user string) (string, error) {
	key := s.get()
	if key == "" {
		return "", respond.ErrNoCredentials
	}
	mdl, err := s.modelFor(ctx, key)
	if err != nil {
		return "", err
	}

	a := &attempt{}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.cancel = cancel
	callCtx = context.WithValue(callCtx, attemptKey{}, a)

	resp, err := mdl.Complete(callCtx, model.Request{
		System:   system,
		Messages: []model.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		if ctx.Err() == nil && a.refused() {
			return "", fmt.Errorf("%s complete: %w", s.name, a.failure())
		}
		return "", fmt.Errorf("%s complete: %w", s.name, err)
	}
	if resp == nil {
		return "", respond.ErrEmptyOutput
	}
	return resp.Message.Content, nil
}

// ErrAttemptFailed reports that the single HTTP attempt of a call did not
// succeed and a retry was refused.
var ErrAttemptFailed = errors.New("backend attempt failed")

type attemptKey struct{}

// attempt tracks the HTTP round trips of one Generate call.
type attempt struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	sent    bool
	refusal bool
	status  int
	err     error
}

func (a *attempt) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sent {
		a.refusal = true
		return false
	}
	a.sent = true
	return true
}

func (a *attempt) finish(status int, err error) {
	a.mu.Lock()
	a.status, a.err = status, err
	a.mu.Unlock()
}

func (a *attempt) refused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refusal
}

func (a *attempt) failure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return fmt.Errorf("%w: %w", ErrAttemptFailed, a.err)
	}
	return fmt.Errorf("%w: http %d", ErrAttemptFailed, a.status)
}

// singleAttempt lets one round trip through per Generate call. Responses
// are marked non-retryable for the provider SDKs, and any further attempt
// cancels the call.
type singleAttempt struct {
	base http.RoundTripper
}

func singleAttemptClient() *http.Client {
	return &http.Client{Transport: singleAttempt{base: http.DefaultTransport}}
}

func (t singleAttempt) RoundTrip(req *http.Request) (*http.Response, error) {
	a, _ := req.Context().Value(attemptKey{}).(*attempt)
	if a == nil {
		return t.base.RoundTrip(req)
	}
	if !a.begin() {
		a.cancel()
		return nil, context.Canceled
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		a.finish(0, err)
		return nil, err
	}
	a.finish(resp.StatusCode, nil)
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("X-Should-Retry", "false")
	return resp, nil
}
