package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/channel"
	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/logging"
	"github.com/stellarlinkco/warden/internal/metrics"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/strikes"
)

// Platform is the chat platform as seen by the dispatcher.
type Platform interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
	// Timeout mutes the target until the given time. Errors wrapping
	// channel.ErrPermissionDenied mean the bot lacks the rights to do so.
	Timeout(ctx context.Context, target bus.Target, until time.Time, reason string) error
	RemoveTimeout(ctx context.Context, target bus.Target) error
}

// Responder produces reply text; respond.Pipeline implements it.
type Responder interface {
	Generate(ctx context.Context, req respond.Request) string
}

// Outcome reports what Handle did with a message.
type Outcome struct {
	Decision
	Reply     string
	Category  strikes.Category
	Strike    int
	TimedOut  bool
	TimeoutOf time.Duration
}

type Dispatcher struct {
	state     State
	policy    strikes.Policy
	platform  Platform
	responder Responder

	ownerID string
	prefix  string
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithOwner(id string) Option {
	return func(d *Dispatcher) { d.ownerID = id }
}

func WithCommandPrefix(prefix string) Option {
	return func(d *Dispatcher) { d.prefix = prefix }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(state State, policy strikes.Policy, platform Platform, responder Responder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:     state,
		policy:    policy,
		platform:  platform,
		responder: responder,
		prefix:    "!",
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decide classifies msg against the current state without side effects.
func (d *Dispatcher) Decide(msg bus.InboundMessage) Decision {
	return Decide(Input{
		Text:            msg.Content,
		BotMentioned:    msg.BotMentioned,
		AuthorExempt:    d.ownerID != "" && msg.SenderID == d.ownerID,
		CapsEnforcement: d.state.Toggles.CapsEnforcement(),
		Lenient:         d.state.Toggles.Lenient(),
		Lexicon:         d.state.Lexicon.Snapshot(),
	})
}

// Handle runs the full sequence for one message: record the inbound text,
// generate and send a reply, record the reply, then record a strike and
// escalate when the policy says so. Only a failure to send the reply is
// returned; timeout failures are reported in the chat.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) (Outcome, error) {
	var out Outcome
	content := strings.TrimSpace(msg.Content)
	if content == "" || (d.prefix != "" && strings.HasPrefix(content, d.prefix)) {
		return out, nil
	}

	out.Decision = d.Decide(msg)
	if !out.Respond {
		d.metrics.Message("none")
		return out, nil
	}
	d.metrics.Message(out.Context.String())

	logger := d.logger.With(
		zap.String("user", msg.SenderID),
		zap.String("chat", msg.ChatID),
		zap.String("context", out.Context.String()))
	if id, ok := msg.Metadata["msg_id"].(string); ok {
		logger = logger.With(zap.String("msg_id", id))
	}

	d.state.Memory.Record(msg.SenderID, convo.RoleUser, msg.Content)

	out.Reply = d.responder.Generate(ctx, respond.Request{
		Text:    msg.Content,
		Mention: msg.SenderMention,
		Context: out.Context,
		UserID:  msg.SenderID,
	})
	sendErr := d.platform.Send(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: out.Reply,
		ReplyTo: msg.MessageID,
	})
	if sendErr != nil {
		logger.Error("send reply failed", zap.Error(sendErr))
	} else {
		d.state.Memory.Record(msg.SenderID, convo.RoleAssistant, out.Reply)
		logger.Info("replied", zap.String("reply", logging.Truncate(out.Reply, 80)))
	}

	category, ok := CategoryFor(out.Context)
	if !ok {
		return out, wrapSend(sendErr)
	}
	out.Category = category
	out.Strike = d.state.Ledger.Record(msg.SenderID, category)
	d.metrics.Strike(string(category))
	logger.Info("strike recorded", zap.String("category", string(category)), zap.Int("count", out.Strike))

	if d.policy.ShouldAutoTimeout(category, out.Strike) {
		out.TimeoutOf = d.policy.TimeoutDuration(category, out.Strike)
		out.TimedOut = d.escalate(ctx, msg, category, out.Strike, out.TimeoutOf, logger)
	}
	return out, wrapSend(sendErr)
}

// escalate applies a timeout and announces the result in the chat. The
// strike stays recorded whatever the outcome.
func (d *Dispatcher) escalate(ctx context.Context, msg bus.InboundMessage, c strikes.Category, count int, dur time.Duration, logger *zap.Logger) bool {
	target := bus.TargetOf(msg)
	reason := Reason(c)

	err := d.platform.Timeout(ctx, target, d.now().Add(dur), reason)
	var text string
	switch {
	case err == nil:
		d.metrics.Timeout("applied")
		logger.Info("timed out", zap.Duration("duration", dur), zap.String("reason", reason))
		text = TimeoutNotice(target.Mention, dur, reason, c, count)
	case errors.Is(err, channel.ErrPermissionDenied):
		d.metrics.Timeout("denied")
		logger.Warn("timeout denied", zap.Error(err))
		text = fmt.Sprintf("❌ Cannot timeout %s - insufficient permissions!", target.Mention)
	default:
		d.metrics.Timeout("failed")
		logger.Error("timeout failed", zap.Error(err))
		text = fmt.Sprintf("❌ Failed to timeout %s - platform error!", target.Mention)
	}

	if sendErr := d.platform.Send(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}); sendErr != nil {
		logger.Error("send timeout notice failed", zap.Error(sendErr))
	}
	return err == nil
}

// TimeoutNotice is the announcement sent after an automatic timeout.
func TimeoutNotice(mention string, dur time.Duration, reason string, c strikes.Category, count int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 %s has been timed out for %s!\n", mention, Minutes(dur))
	fmt.Fprintf(&sb, "Reason: %s\n", reason)
	fmt.Fprintf(&sb, "Strike #%d for %s", count, c)
	if count > 1 {
		sb.WriteString("\n⚠️ Repeat offender - escalated punishment!")
	}
	return sb.String()
}

// Minutes renders d as "N minute" or "N minutes".
func Minutes(d time.Duration) string {
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func wrapSend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("send reply: %w", err)
}
