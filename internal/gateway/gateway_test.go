package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/channel"
	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/notes"
	"github.com/stellarlinkco/warden/internal/respond"
)

type fakeChannels struct {
	mu        sync.Mutex
	sent      []bus.OutboundMessage
	timeouts  []bus.Target
	startErrs []error
	starts    int
	stopped   bool
}

func (f *fakeChannels) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannels) Timeout(_ context.Context, t bus.Target, _ time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, t)
	return nil
}

func (f *fakeChannels) RemoveTimeout(context.Context, bus.Target) error { return nil }

func (f *fakeChannels) StartAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if len(f.startErrs) == 0 {
		return nil
	}
	err := f.startErrs[0]
	f.startErrs = f.startErrs[1:]
	return err
}

func (f *fakeChannels) StopAll() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannels) EnabledChannels() []string { return []string{"fake"} }
func (f *fakeChannels) BotName() string           { return "@wardenbot" }
func (f *fakeChannels) Chats() int                { return 1 }

func (f *fakeChannels) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Content
	}
	return out
}

type echoGenerator struct{}

func (echoGenerator) Name() string { return "echo" }
func (echoGenerator) Generate(_ context.Context, _, user string) (string, error) {
	return "echo " + user, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agent.OwnerID = "1"
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Moderation.LexiconFile = filepath.Join(t.TempDir(), "lexicon.yaml")
	cfg.Moderation.CapsEnforcement = true
	return cfg
}

func newTestGateway(t *testing.T, fc *fakeChannels) (*Gateway, chan os.Signal) {
	t.Helper()
	sig := make(chan os.Signal, 1)
	g, err := NewWithOptions(testConfig(t), Options{
		Logger: zaptest.NewLogger(t),
		ChannelsFactory: func(config.ChannelsConfig, *bus.MessageBus, *zap.Logger) (Channels, error) {
			return fc, nil
		},
		Generators:    []respond.Generator{echoGenerator{}},
		Notes:         notes.NopStore{},
		RetryInterval: time.Millisecond,
		SignalChan:    sig,
	})
	require.NoError(t, err)
	return g, sig
}

func TestNewWithOptions_FactoryError(t *testing.T) {
	_, err := NewWithOptions(testConfig(t), Options{
		ChannelsFactory: func(config.ChannelsConfig, *bus.MessageBus, *zap.Logger) (Channels, error) {
			return nil, errors.New("no token")
		},
		Generators: []respond.Generator{},
		Notes:      notes.NopStore{},
	})
	assert.ErrorContains(t, err, "create channel manager")
}

func TestNewWithOptions_BadSweepExpr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.Sweep = "every minute"
	_, err := NewWithOptions(cfg, Options{
		ChannelsFactory: func(config.ChannelsConfig, *bus.MessageBus, *zap.Logger) (Channels, error) {
			return &fakeChannels{}, nil
		},
		Generators: []respond.Generator{},
		Notes:      notes.NopStore{},
	})
	assert.Error(t, err)
}

func TestGateway_RunHandlesMessages(t *testing.T) {
	fc := &fakeChannels{}
	g, sig := newTestGateway(t, fc)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	g.bus.Inbound <- bus.InboundMessage{
		Channel: "fake", ChatID: "10", SenderID: "5", SenderMention: "@five",
		Content: "tell me a story", BotMentioned: true, MessageID: "3",
	}
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "fake", ChatID: "10", SenderID: "5",
		Content: "!ping",
	}

	require.Eventually(t, func() bool { return len(fc.contents()) == 2 }, 3*time.Second, 10*time.Millisecond)
	joined := strings.Join(fc.contents(), "\n")
	assert.Contains(t, joined, "echo User said: 'tell me a story'")
	assert.Contains(t, joined, "Pong")

	sig <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
	assert.True(t, fc.stopped)
	assert.Equal(t, 1, g.State().Memory.Len(), "one user with history")
}

func TestGateway_EscalationThroughRun(t *testing.T) {
	fc := &fakeChannels{}
	g, sig := newTestGateway(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	for i := 0; i < 2; i++ {
		g.bus.Inbound <- bus.InboundMessage{
			Channel: "fake", ChatID: "10", SenderID: "9", SenderMention: "@nine",
			Content: "WHY IS EVERYONE SO QUIET",
		}
	}
	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.timeouts) == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec, ok := g.State().Ledger.Get("9")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Caps)

	sig <- syscall.SIGINT
	require.NoError(t, <-done)
}

func TestGateway_ContextCancelStops(t *testing.T) {
	fc := &fakeChannels{}
	g, _ := newTestGateway(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop on cancel")
	}
}

func TestStartChannels_Retries(t *testing.T) {
	fc := &fakeChannels{startErrs: []error{errors.New("reset"), errors.New("reset")}}
	g, _ := newTestGateway(t, fc)

	require.NoError(t, g.startChannels(context.Background()))
	assert.Equal(t, 3, fc.starts)
}

func TestStartChannels_GivesUp(t *testing.T) {
	fc := &fakeChannels{startErrs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	g, _ := newTestGateway(t, fc)

	err := g.startChannels(context.Background())
	require.Error(t, err)
	assert.Equal(t, maxStartAttempts, fc.starts)
}

func TestStartChannels_UnauthorizedIsPermanent(t *testing.T) {
	fc := &fakeChannels{startErrs: []error{fmt.Errorf("telegram: %w", channel.ErrUnauthorized)}}
	g, _ := newTestGateway(t, fc)

	err := g.startChannels(context.Background())
	require.ErrorIs(t, err, channel.ErrUnauthorized)
	assert.Equal(t, 1, fc.starts)

	done := make(chan error, 1)
	fc.startErrs = []error{channel.ErrUnauthorized}
	go func() { done <- g.Run(context.Background()) }()
	assert.ErrorIs(t, <-done, channel.ErrUnauthorized)
}

func TestShardFor(t *testing.T) {
	a := bus.InboundMessage{Channel: "telegram", ChatID: "1", SenderID: "42"}
	first := shardFor(a, 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, shardFor(a, 4))
	}
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		s := shardFor(bus.InboundMessage{Channel: "telegram", ChatID: "1", SenderID: fmt.Sprint(i)}, 4)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 4)
		seen[s] = true
	}
	assert.Len(t, seen, 4)
}
