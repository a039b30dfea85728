// Package respond turns a classified message into reply text. Backends are
// tried in order and any failure falls through to the next one; when all of
// them decline, a canned reply for the context is used.
package respond

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/logging"
	"github.com/stellarlinkco/warden/internal/metrics"
	"github.com/stellarlinkco/warden/internal/notes"
)

var (
	ErrNoCredentials = errors.New("backend has no credentials")
	ErrEmptyOutput   = errors.New("backend returned empty output")
)

const DefaultTimeout = 12 * time.Second

// Generator is one text-generation backend.
type Generator interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
}

// Configurable is implemented by generators whose credentials can be
// inspected and replaced at runtime.
type Configurable interface {
	Configured() bool
	SetAPIKey(key string)
}

// NoteSource supplies stored notes about a user.
type NoteSource interface {
	List(ctx context.Context, userID string) ([]notes.Note, error)
}

type Request struct {
	Text    string
	Mention string
	Context ContextType
	// UserID enables conversation history and notes when set.
	UserID string
}

// Result describes how a reply was produced.
type Result struct {
	Text    string
	Backend string // empty when the reply is canned
}

type Pipeline struct {
	mu         sync.RWMutex
	generators []Generator

	timeout time.Duration
	memory  *convo.Memory
	notes   NoteSource
	metrics *metrics.Metrics
	logger  *zap.Logger
	intn    func(n int) int
}

type Option func(*Pipeline)

func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithMemory(m *convo.Memory) Option {
	return func(p *Pipeline) { p.memory = m }
}

func WithNotes(n NoteSource) Option {
	return func(p *Pipeline) { p.notes = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRand replaces the canned-pool sampler, for tests.
func WithRand(intn func(n int) int) Option {
	return func(p *Pipeline) { p.intn = intn }
}

func NewPipeline(generators []Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		generators: generators,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		intn:       rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generators returns the backend chain in order.
func (p *Pipeline) Generators() []Generator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Generator, len(p.generators))
	copy(out, p.generators)
	return out
}

// Generator returns the backend with the given name.
func (p *Pipeline) Generator(name string) (Generator, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range p.generators {
		if strings.EqualFold(g.Name(), name) {
			return g, true
		}
	}
	return nil, false
}

// Generate always returns a non-empty reply.
func (p *Pipeline) Generate(ctx context.Context, req Request) string {
	return p.GenerateResult(ctx, req).Text
}

func (p *Pipeline) GenerateResult(ctx context.Context, req Request) Result {
	system := p.SystemPrompt(ctx, req)
	user := fmt.Sprintf("User said: '%s'", req.Text)

	for _, g := range p.Generators() {
		if ctx.Err() != nil {
			break
		}
		text, err := p.try(ctx, g, system, user)
		if err != nil {
			reason := declineReason(err)
			p.metrics.BackendDecline(g.Name(), reason)
			p.logger.Warn("backend declined",
				zap.String("backend", g.Name()),
				zap.String("reason", reason),
				zap.String("context", req.Context.String()),
				zap.Error(err))
			continue
		}
		p.logger.Debug("backend replied",
			zap.String("backend", g.Name()),
			zap.String("reply", logging.Truncate(text, 100)))
		return Result{Text: text, Backend: g.Name()}
	}

	p.metrics.Canned()
	p.logger.Info("all backends declined, using canned reply", zap.String("context", req.Context.String()))
	return Result{Text: p.Canned(req.Context, req.Mention)}
}

func (p *Pipeline) try(ctx context.Context, g Generator, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.Generate(callCtx, system, user)
	p.metrics.BackendLatency(g.Name(), time.Since(start).Seconds())
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("%s: %w", g.Name(), context.DeadlineExceeded)
		}
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// Canned samples the canned pool for c.
func (p *Pipeline) Canned(c ContextType, mention string) string {
	pool := cannedPool(c)
	return fill(pool[p.intn(len(pool))], mention, "")
}

// SystemPrompt renders the prompt for req, including notes and recent
// history where they apply.
func (p *Pipeline) SystemPrompt(ctx context.Context, req Request) string {
	var notesBlock string
	if req.Context.UsesNotes() && req.UserID != "" && p.notes != nil {
		list, err := p.notes.List(ctx, req.UserID)
		if err != nil {
			p.logger.Warn("notes lookup failed", zap.String("user", req.UserID), zap.Error(err))
		} else if len(list) > 0 {
			texts := make([]string, len(list))
			for i, n := range list {
				texts[i] = n.Text
			}
			notesBlock = "\nKnown weak points of this user you may use against them: " + strings.Join(texts, "; ") + "."
		}
	}

	var sb strings.Builder
	sb.WriteString(fill(promptTemplate(req.Context), req.Mention, notesBlock))

	if req.UserID != "" && p.memory != nil {
		if history := p.memory.Recent(req.UserID); len(history) > 0 {
			sb.WriteString("\n\nPrevious conversation context:\n")
			for _, e := range history {
				if e.Role == convo.RoleUser {
					sb.WriteString("User: ")
				} else {
					sb.WriteString("Assistant: ")
				}
				sb.WriteString(e.Text)
				sb.WriteByte('\n')
			}
			sb.WriteString("\nContinue this conversation naturally.")
		}
	}
	return sb.String()
}

func fill(tmpl, mention, notesBlock string) string {
	return strings.NewReplacer("{mention}", mention, "{notes}", notesBlock).Replace(tmpl)
}

func declineReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return "no_credentials"
	case errors.Is(err, ErrEmptyOutput):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
