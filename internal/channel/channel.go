package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stellarlinkco/warden/internal/bus"
)

var (
	// ErrPermissionDenied means the platform refused a moderation action
	// because the bot lacks the rights for it.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthorized means the platform rejected the bot credentials.
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnsupported  = errors.New("not supported by channel")
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Moderator is implemented by channels that can mute users.
type Moderator interface {
	Restrict(ctx context.Context, target bus.Target, until time.Time, reason string) error
	Unrestrict(ctx context.Context, target bus.Target) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool

	chats sync.Map
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may talk to the bot. An empty allow
// list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

func (c *BaseChannel) markChat(chatID string) {
	c.chats.Store(chatID, struct{}{})
}

// Chats returns how many distinct chats the channel has seen messages from.
func (c *BaseChannel) Chats() int {
	n := 0
	c.chats.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
