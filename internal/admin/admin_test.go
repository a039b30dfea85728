package admin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/channel"
	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/notes"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/strikes"
)

type fakePlatform struct {
	sent       []bus.OutboundMessage
	timeouts   []bus.Target
	until      []time.Time
	removed    []bus.Target
	timeoutErr error
}

func (f *fakePlatform) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakePlatform) Timeout(_ context.Context, t bus.Target, until time.Time, _ string) error {
	f.timeouts = append(f.timeouts, t)
	f.until = append(f.until, until)
	return f.timeoutErr
}

func (f *fakePlatform) RemoveTimeout(_ context.Context, t bus.Target) error {
	f.removed = append(f.removed, t)
	return f.timeoutErr
}

func (f *fakePlatform) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Content
}

type fakeGenerator struct {
	name string
	key  string
}

func (g *fakeGenerator) Name() string { return g.name }
func (g *fakeGenerator) Generate(context.Context, string, string) (string, error) {
	if g.key == "" {
		return "", respond.ErrNoCredentials
	}
	return "generated", nil
}
func (g *fakeGenerator) Configured() bool     { return g.key != "" }
func (g *fakeGenerator) SetAPIKey(key string) { g.key = key }

type fakeInfo struct{}

func (fakeInfo) BotName() string { return "@wardenbot" }
func (fakeInfo) Chats() int      { return 3 }

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	h        *Handler
	platform *fakePlatform
	state    dispatch.State
	gen      *fakeGenerator
	lexPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := notes.NewSQLiteStore(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	state := dispatch.State{
		Ledger:  strikes.NewLedger(),
		Memory:  convo.New(convo.DefaultLimit, convo.DefaultTTL, convo.DefaultContextSize),
		Lexicon: lexicon.Default("warden"),
		Toggles: dispatch.NewToggles(true, false),
	}
	gen := &fakeGenerator{name: "gemini"}
	pipeline := respond.NewPipeline([]respond.Generator{gen}, respond.WithRand(func(int) int { return 0 }))
	p := &fakePlatform{}
	lexPath := filepath.Join(t.TempDir(), "lexicon.yaml")

	h := New(state, strikes.DefaultPolicy(), p, pipeline, store,
		WithOwner("1"),
		WithLexiconPath(lexPath),
		WithPlatformInfo(fakeInfo{}),
		WithClock(func() time.Time { return now }))
	return &fixture{h: h, platform: p, state: state, gen: gen, lexPath: lexPath}
}

func (f *fixture) run(t *testing.T, sender, text string) string {
	t.Helper()
	return f.runMsg(t, bus.InboundMessage{Channel: "telegram", ChatID: "100", SenderID: sender, SenderMention: "@u" + sender, Content: text})
}

func (f *fixture) runMsg(t *testing.T, msg bus.InboundMessage) string {
	t.Helper()
	handled, err := f.h.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, handled, msg.Content)
	return f.platform.last()
}

func TestHandle_NotACommand(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"hello", "!", "!unknowncmd"} {
		handled, err := f.h.Handle(context.Background(), bus.InboundMessage{Content: text})
		require.NoError(t, err)
		assert.False(t, handled, text)
	}
	assert.Empty(t, f.platform.sent)
	assert.True(t, f.h.IsCommand("  !ping"))
	assert.False(t, f.h.IsCommand("ping"))
}

func TestOwnerGating(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Only my owner can check detailed status!", f.run(t, "2", "!status"))
	assert.Equal(t, "Only my owner can add words!", f.run(t, "2", "!addword heck"))
	assert.NotContains(t, f.state.Lexicon.Snapshot().Flagged, "heck")

	assert.Contains(t, f.run(t, "2", "!ping"), "Pong")
}

func TestPingAndBotSuffix(t *testing.T) {
	f := newFixture(t)
	reply := f.runMsg(t, bus.InboundMessage{SenderID: "9", Content: "!ping@wardenbot", Timestamp: now.Add(-250 * time.Millisecond)})
	assert.Equal(t, "🏓 Pong! Latency: 250ms\nYour ID: 9", reply)
}

func TestCapsPunish(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Only my owner can toggle caps punishment!", f.run(t, "2", "!capspunish"))
	assert.True(t, f.state.Toggles.CapsEnforcement(), "non-owner cannot switch enforcement off")

	assert.Contains(t, f.run(t, "1", "!capspunish"), "DEACTIVATED")
	assert.False(t, f.state.Toggles.CapsEnforcement())
	assert.Contains(t, f.run(t, "1", "!capspunish"), "ACTIVATED")
	assert.True(t, f.state.Toggles.CapsEnforcement())
}

func TestTestCaps(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "2", "!testcaps")
	assert.Contains(t, reply, "🔥 `THIS IS A TEST MESSAGE` - CAPS ABUSE")
	assert.Contains(t, reply, "✅ `this is normal text` - OK")
	assert.Contains(t, reply, "✅ `This Has Some Caps But Not Much` - OK")
}

func TestCommandsList(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "2", "!commands")
	for _, name := range []string{"ping", "capspunish", "testcaps", "setai", "weakpoints", "removeword"} {
		assert.Contains(t, reply, "!"+name)
	}
}

func TestSetAIAndTestAI(t *testing.T) {
	f := newFixture(t)

	reply := f.run(t, "1", "!testai")
	assert.True(t, strings.HasPrefix(reply, "AI Test Response (canned): "), reply)

	assert.Equal(t, "❌ Supported services: gemini", f.run(t, "1", "!setai nope key"))
	assert.Equal(t, "✅ gemini API key updated!", f.run(t, "1", "!setai Gemini sk-123"))
	assert.Equal(t, "sk-123", f.gen.key)
	assert.Contains(t, f.run(t, "1", "!setai"), "Usage: !setai")

	assert.Equal(t, "AI Test Response (gemini): generated", f.run(t, "1", "!testai hi there"))
}

func TestWordAndNameEdits(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "✅ Added 'heck' to bad words list!", f.run(t, "1", "!addword Heck"))
	assert.Equal(t, "'heck' is already in the list!", f.run(t, "1", "!addword heck"))
	assert.Equal(t, "✅ Added 'boss' to protected names!", f.run(t, "1", "!addname Boss"))
	assert.Equal(t, "'boss' is already protected!", f.run(t, "1", "!addname boss"))

	saved, err := lexicon.LoadFile(f.lexPath)
	require.NoError(t, err)
	assert.Contains(t, saved.FlaggedTerms, "heck")
	assert.Contains(t, saved.ProtectedNames, "boss")

	assert.Equal(t, "✅ Removed 'heck' from bad words list!", f.run(t, "1", "!removeword heck"))
	assert.Equal(t, "'heck' is not in the list!", f.run(t, "1", "!removeword heck"))
	assert.Equal(t, "✅ Removed 'boss' from protected names!", f.run(t, "1", "!removename boss"))
	assert.Equal(t, "'boss' is not protected!", f.run(t, "1", "!removename boss"))
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.state.Ledger.Record("5", strikes.Caps)
	reply := f.run(t, "1", "!status")
	assert.Contains(t, reply, "Bot: @wardenbot online ✅")
	assert.Contains(t, reply, "gemini: ❌")
	assert.Contains(t, reply, "Caps Punishment: 🔥 ACTIVE")
	assert.Contains(t, reply, "Users with Strikes: 1 (1 strikes)")
	assert.Contains(t, reply, "Chats: 3")
	assert.Contains(t, reply, "Caps (1st offense): 5m")
	assert.Contains(t, reply, "Caps (excessive): 30m")
	assert.Contains(t, reply, "Harassment (1st): 15m")
}

func TestTimeout(t *testing.T) {
	f := newFixture(t)

	reply := f.runMsg(t, bus.InboundMessage{
		Channel: "telegram", ChatID: "100", SenderID: "1",
		Content:   "!timeout 1h30m",
		ReplyToID: "42", ReplyToName: "@bob",
	})
	assert.Equal(t, "❌ Invalid duration format! Use: 5m, 10m, 1h, etc.", reply)

	reply = f.runMsg(t, bus.InboundMessage{
		Channel: "telegram", ChatID: "100", SenderID: "1",
		Content:   "!timeout 90m spamming links",
		ReplyToID: "42", ReplyToName: "@bob",
	})
	assert.Equal(t, "✅ @bob has been timed out for 1h 30m!\nReason: spamming links", reply)
	require.Len(t, f.platform.timeouts, 1)
	assert.Equal(t, bus.Target{Channel: "telegram", ChatID: "100", UserID: "42", Mention: "@bob"}, f.platform.timeouts[0])
	assert.Equal(t, now.Add(90*time.Minute), f.platform.until[0])

	reply = f.run(t, "1", "!timeout 42 10")
	assert.Equal(t, "✅ User 42 has been timed out for 10m!\nReason: Manual timeout", reply)

	assert.Equal(t, noSubject, f.run(t, "1", "!timeout bob 5m"))
	assert.Contains(t, f.run(t, "1", "!timeout 42"), "Usage: !timeout")
}

func TestTimeoutErrors(t *testing.T) {
	f := newFixture(t)

	f.platform.timeoutErr = fmt.Errorf("restrict: %w", channel.ErrPermissionDenied)
	assert.Equal(t, "❌ Cannot timeout User 42 - insufficient permissions!", f.run(t, "1", "!timeout 42 5m"))
	assert.Equal(t, "❌ Cannot remove timeout from User 42 - insufficient permissions!", f.run(t, "1", "!untimeout 42"))

	f.platform.timeoutErr = errors.New("boom")
	assert.Equal(t, "❌ Failed to timeout User 42 - platform error!", f.run(t, "1", "!timeout 42 5m"))
	assert.Equal(t, "❌ Failed to remove timeout from User 42 - platform error!", f.run(t, "1", "!untimeout 42"))

	f.platform.timeoutErr = nil
	assert.Equal(t, "✅ Timeout removed from User 42!", f.run(t, "1", "!untimeout 42"))
}

func TestStrikes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "📊 No users have strikes yet!", f.run(t, "1", "!strikes"))

	f.state.Ledger.Record("42", strikes.Caps)
	f.state.Ledger.Record("42", strikes.BadWords)
	f.state.Ledger.Record("7", strikes.Harassment)

	all := f.run(t, "1", "!strikes")
	assert.Equal(t, "📊 Users with Strikes:\n"+
		"• User 42: 2 total (1 caps, 1 words, 0 harassment)\n"+
		"• User 7: 1 total (0 caps, 0 words, 1 harassment)", all)

	one := f.run(t, "1", "!strikes 42")
	assert.Contains(t, one, "Strike Record for User 42")
	assert.Contains(t, one, "Total Strikes: 2")
	assert.Equal(t, "📊 User 9 has no strikes!", f.run(t, "1", "!strikes 9"))

	assert.Equal(t, "✅ Cleared all strikes for User 42!", f.run(t, "1", "!clearstrikes 42"))
	assert.Equal(t, "📊 User 42 has no strikes to clear!", f.run(t, "1", "!clearstrikes 42"))
	assert.Equal(t, noSubject, f.run(t, "1", "!clearstrikes"))
}

func TestWeakpoints(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "📊 No users have weakpoints recorded yet.", f.run(t, "1", "!weakpoints"))

	reply := f.runMsg(t, bus.InboundMessage{
		SenderID: "1", Content: "!addweakpoint lost to a toaster",
		ReplyToID: "42", ReplyToName: "@bob",
	})
	assert.Equal(t, "✅ Added weakpoint for @bob:\n`lost to a toaster`", reply)

	assert.Equal(t, "🎯 Weakpoints for User 42:\n• `lost to a toaster`", f.run(t, "1", "!weakpoints 42"))
	assert.Equal(t, "🎯 All Users with Weakpoints:\n\n@bob:\n  • `lost to a toaster`", f.run(t, "1", "!weakpoints"))

	assert.Equal(t, "❌ Weakpoint not found for User 42", f.run(t, "1", "!removeweakpoint 42 nothing"))
	assert.Equal(t, "✅ Removed weakpoint for User 42:\n`lost to a toaster`", f.run(t, "1", "!removeweakpoint 42 lost to a toaster"))
	assert.Equal(t, "📊 User 42 has no weakpoints recorded.", f.run(t, "1", "!weakpoints 42"))
}

func TestWeakpoints_NoStore(t *testing.T) {
	state := dispatch.State{
		Ledger:  strikes.NewLedger(),
		Lexicon: lexicon.Default(),
		Toggles: dispatch.NewToggles(true, false),
	}
	p := &fakePlatform{}
	h := New(state, strikes.DefaultPolicy(), p, respond.NewPipeline(nil), nil, WithOwner("1"))

	_, err := h.Handle(context.Background(), bus.InboundMessage{SenderID: "1", Content: "!addweakpoint 42 slow"})
	require.NoError(t, err)
	assert.Equal(t, "❌ Failed to add weakpoint for User 42", p.last())
}

func TestLongRepliesAreChunked(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 120; i++ {
		f.state.Ledger.Record(fmt.Sprintf("10000000%03d", i), strikes.Caps)
	}
	f.run(t, "1", "!strikes")
	require.Greater(t, len(f.platform.sent), 1)
	for _, m := range f.platform.sent {
		assert.LessOrEqual(t, len([]rune(m.Content)), MaxReplyLen)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5m", 5 * time.Minute, true},
		{"1h", time.Hour, true},
		{"30s", 30 * time.Second, true},
		{"15", 15 * time.Minute, true},
		{" 2H ", 2 * time.Hour, true},
		{"0", 0, false},
		{"-5m", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"1d", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDuration(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", FormatDuration(5*time.Minute))
	assert.Equal(t, "2h", FormatDuration(2*time.Hour))
	assert.Equal(t, "1h 30m", FormatDuration(90*time.Minute))
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"abc"}, Chunk("abc", 5))
	assert.Equal(t, []string{"ab", "cd", "e"}, Chunk("abcde", 2))
	assert.Equal(t, []string{""}, Chunk("", 5))
}
