package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/config"
)

const outboundSendTimeout = 30 * time.Second

// Manager owns the enabled channels and routes sends and moderation
// actions to the channel named on each message.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *zap.Logger
}

func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logger.Named("channel-mgr"),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, logger)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}
	return m, nil
}

// Register adds ch and subscribes it to outbound messages on the bus.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()

	if m.bus == nil {
		return
	}
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), outboundSendTimeout)
		defer cancel()
		if err := ch.Send(ctx, msg); err != nil {
			m.logger.Error("send failed", zap.String("channel", ch.Name()), zap.Error(err))
		}
	})
}

func (m *Manager) channel(name string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", name)
	}
	return ch, nil
}

func (m *Manager) moderator(name string) (Moderator, error) {
	ch, err := m.channel(name)
	if err != nil {
		return nil, err
	}
	mod, ok := ch.(Moderator)
	if !ok {
		return nil, fmt.Errorf("%s: timeouts: %w", name, ErrUnsupported)
	}
	return mod, nil
}

func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	ch, err := m.channel(msg.Channel)
	if err != nil {
		return err
	}
	return ch.Send(ctx, msg)
}

func (m *Manager) Timeout(ctx context.Context, target bus.Target, until time.Time, reason string) error {
	mod, err := m.moderator(target.Channel)
	if err != nil {
		return err
	}
	return mod.Restrict(ctx, target, until, reason)
}

func (m *Manager) RemoveTimeout(ctx context.Context, target bus.Target) error {
	mod, err := m.moderator(target.Channel)
	if err != nil {
		return err
	}
	return mod.Unrestrict(ctx, target)
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	chans := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		chans[name] = ch
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(chans))
	for name, ch := range chans {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting", zap.String("channel", name))
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		m.logger.Info("stopping", zap.String("channel", name))
		if err := ch.Stop(); err != nil {
			m.logger.Warn("stop failed", zap.String("channel", name), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chats sums the distinct chats seen across channels that track them.
func (m *Manager) Chats() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ch := range m.channels {
		if c, ok := ch.(interface{ Chats() int }); ok {
			n += c.Chats()
		}
	}
	return n
}

// BotName returns the first known bot handle, or "" before connecting.
func (m *Manager) BotName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range []string{telegramChannelName} {
		if ch, ok := m.channels[name].(interface{ BotName() string }); ok {
			if n := ch.BotName(); n != "" {
				return n
			}
		}
	}
	return ""
}
