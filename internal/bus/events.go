package bus

import (
	"context"
	"sync"
	"time"
)

type InboundMessage struct {
	Channel  string
	ChatID   string
	SenderID string
	// SenderName is the display name; SenderMention is the token that
	// addresses the sender in a reply ("@name" or the display name).
	SenderName    string
	SenderMention string
	Content       string
	// Mentions holds the user names or ids mentioned in the message.
	Mentions     []string
	BotMentioned bool
	ReplyToID    string
	ReplyToName  string
	MessageID    string
	Timestamp    time.Time
	Metadata     map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}

// Target identifies a user within a chat for moderation actions.
type Target struct {
	Channel string
	ChatID  string
	UserID  string
	Mention string
}

// TargetOf returns the sender of m as a Target.
func TargetOf(m InboundMessage) Target {
	return Target{Channel: m.Channel, ChatID: m.ChatID, UserID: m.SenderID, Mention: m.SenderMention}
}

// MessageBus carries inbound messages from channels to the gateway and
// fans outbound messages back out to the channel that owns them.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string][]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers fn for outbound messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], fn)
	b.mu.Unlock()
}

// PublishInbound enqueues msg, giving up when ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is
// cancelled. Messages for channels without subscribers are dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fns := b.subs[msg.Channel]
			b.mu.RUnlock()
			for _, fn := range fns {
				fn(msg)
			}
		}
	}
}
