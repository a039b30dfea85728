// Package admin implements the chat commands used to operate the bot.
// Commands start with the configured prefix; most of them are restricted to
// the owner.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/notes"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/strikes"
)

// MaxReplyLen is the longest single reply; longer output is split.
const MaxReplyLen = 1900

// Backends is the generation surface the commands need. respond.Pipeline
// implements it.
type Backends interface {
	GenerateResult(ctx context.Context, req respond.Request) respond.Result
	Generators() []respond.Generator
	Generator(name string) (respond.Generator, bool)
}

// PlatformInfo reports connection details for the status command.
type PlatformInfo interface {
	BotName() string
	Chats() int
}

type command struct {
	ownerOnly bool
	// denied completes "Only my owner can ...!".
	denied string
	run    func(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string
}

type Handler struct {
	state    dispatch.State
	policy   strikes.Policy
	platform dispatch.Platform
	backends Backends
	notes    notes.Store

	ownerID     string
	prefix      string
	lexiconPath string
	info        PlatformInfo
	logger      *zap.Logger
	now         func() time.Time

	commands map[string]command
}

type Option func(*Handler)

func WithOwner(id string) Option {
	return func(h *Handler) { h.ownerID = id }
}

func WithPrefix(prefix string) Option {
	return func(h *Handler) { h.prefix = prefix }
}

// WithLexiconPath makes word and name edits persist to path.
func WithLexiconPath(path string) Option {
	return func(h *Handler) { h.lexiconPath = path }
}

func WithPlatformInfo(info PlatformInfo) Option {
	return func(h *Handler) { h.info = info }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(state dispatch.State, policy strikes.Policy, platform dispatch.Platform, backends Backends, store notes.Store, opts ...Option) *Handler {
	if store == nil {
		store = notes.NopStore{}
	}
	h := &Handler{
		state:    state,
		policy:   policy,
		platform: platform,
		backends: backends,
		notes:    store,
		prefix:   "!",
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.commands = map[string]command{
		"ping":            {run: cmdPing},
		"capspunish":      {ownerOnly: true, denied: "toggle caps punishment", run: cmdCapsPunish},
		"commands":        {run: cmdCommands},
		"testcaps":        {run: cmdTestCaps},
		"setai":           {ownerOnly: true, denied: "set API keys", run: cmdSetAI},
		"testai":          {ownerOnly: true, denied: "test AI", run: cmdTestAI},
		"addword":         {ownerOnly: true, denied: "add words", run: cmdAddWord},
		"removeword":      {ownerOnly: true, denied: "remove words", run: cmdRemoveWord},
		"addname":         {ownerOnly: true, denied: "add names", run: cmdAddName},
		"removename":      {ownerOnly: true, denied: "remove names", run: cmdRemoveName},
		"status":          {ownerOnly: true, denied: "check detailed status", run: cmdStatus},
		"timeout":         {ownerOnly: true, denied: "manually timeout users", run: cmdTimeout},
		"untimeout":       {ownerOnly: true, denied: "remove timeouts", run: cmdUntimeout},
		"strikes":         {ownerOnly: true, denied: "view strikes", run: cmdStrikes},
		"clearstrikes":    {ownerOnly: true, denied: "clear strikes", run: cmdClearStrikes},
		"addweakpoint":    {ownerOnly: true, denied: "add weakpoints", run: cmdAddWeakpoint},
		"removeweakpoint": {ownerOnly: true, denied: "remove weakpoints", run: cmdRemoveWeakpoint},
		"weakpoints":      {ownerOnly: true, denied: "view weakpoints", run: cmdWeakpoints},
	}
	return h
}

// IsCommand reports whether text is addressed to the command handler.
func (h *Handler) IsCommand(text string) bool {
	return h.prefix != "" && strings.HasPrefix(strings.TrimSpace(text), h.prefix)
}

// Handle runs the command in msg and sends its reply. It reports false when
// msg is not a known command.
func (h *Handler) Handle(ctx context.Context, msg bus.InboundMessage) (bool, error) {
	name, args, ok := h.parse(msg.Content)
	if !ok {
		return false, nil
	}
	cmd, ok := h.commands[name]
	if !ok {
		return false, nil
	}

	logger := h.logger.With(zap.String("command", name), zap.String("user", msg.SenderID))
	var reply string
	if cmd.ownerOnly && !h.isOwner(msg.SenderID) {
		logger.Info("command denied")
		reply = fmt.Sprintf("Only my owner can %s!", cmd.denied)
	} else {
		logger.Info("command")
		reply = cmd.run(ctx, h, msg, args)
	}
	return true, h.reply(ctx, msg, reply)
}

func (h *Handler) parse(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if h.prefix == "" || !strings.HasPrefix(text, h.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, h.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(fields[0])
	// Telegram appends the bot handle to commands in groups: !status@bot.
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return name, fields[1:], true
}

func (h *Handler) isOwner(userID string) bool {
	return h.ownerID != "" && userID == h.ownerID
}

func (h *Handler) reply(ctx context.Context, msg bus.InboundMessage, text string) error {
	for _, chunk := range Chunk(text, MaxReplyLen) {
		err := h.platform.Send(ctx, bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: chunk,
		})
		if err != nil {
			return fmt.Errorf("send command reply: %w", err)
		}
	}
	return nil
}

// subject is the user a command acts on.
type subject struct {
	id   string
	name string
}

func (s subject) target(msg bus.InboundMessage) bus.Target {
	return bus.Target{Channel: msg.Channel, ChatID: msg.ChatID, UserID: s.id, Mention: s.name}
}

// resolveUser picks the command subject: the author of the replied-to
// message, otherwise a leading numeric id argument. The remaining arguments
// are returned.
func resolveUser(msg bus.InboundMessage, args []string) (subject, []string, bool) {
	if msg.ReplyToID != "" {
		name := msg.ReplyToName
		if name == "" {
			name = "User " + msg.ReplyToID
		}
		return subject{id: msg.ReplyToID, name: name}, args, true
	}
	if len(args) > 0 && isNumericID(args[0]) {
		return subject{id: args[0], name: "User " + args[0]}, args[1:], true
	}
	return subject{}, args, false
}

func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 && len(s) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Chunk splits s into pieces of at most n runes.
func Chunk(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > 0 {
		end := min(n, len(r))
		out = append(out, string(r[:end]))
		r = r[end:]
	}
	return out
}
