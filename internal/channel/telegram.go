package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/config"
)

const (
	telegramChannelName = "telegram"
	telegramMaxLen      = 4000
	// Telegram treats restrictions shorter than 30s as permanent.
	minRestriction = 30 * time.Second
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	bot        TelegramBot
	self       tgbotapi.User
	cancel     context.CancelFunc
	botFactory BotFactory
	logger     *zap.Logger

	ratePerMinute int
	limiters      sync.Map // chat id -> *rate.Limiter
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, logger, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rpm := cfg.SendRatePerMinute
	if rpm <= 0 {
		rpm = config.DefaultSendRatePerMinute
	}
	return &TelegramChannel{
		BaseChannel:   NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:         cfg.Token,
		proxy:         cfg.Proxy,
		botFactory:    factory,
		logger:        logger.Named(telegramChannelName),
		ratePerMinute: rpm,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		if isUnauthorized(err) {
			return fmt.Errorf("create telegram bot: %w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.SetBot(bot)
	t.logger.Info("authorized", zap.String("bot", t.self.UserName))
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if t.self.ID != 0 && msg.From.ID == t.self.ID {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		t.logger.Debug("rejected message", zap.String("sender", senderID), zap.String("username", msg.From.UserName))
		return
	}

	content := msg.Text
	entities := msg.Entities
	if content == "" {
		content, entities = msg.Caption, msg.CaptionEntities
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	t.markChat(chatID)

	mentions, botMentioned := t.extractMentions(content, entities)
	in := bus.InboundMessage{
		Channel:       telegramChannelName,
		ChatID:        chatID,
		SenderID:      senderID,
		SenderName:    displayName(msg.From),
		SenderMention: mentionToken(msg.From),
		Content:       content,
		Mentions:      mentions,
		BotMentioned:  botMentioned,
		MessageID:     strconv.Itoa(msg.MessageID),
		Timestamp:     time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"chat_type":  msg.Chat.Type,
		},
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil {
		in.ReplyToID = strconv.FormatInt(r.From.ID, 10)
		in.ReplyToName = mentionToken(r.From)
		if t.self.ID != 0 && r.From.ID == t.self.ID {
			in.BotMentioned = true
		}
	}

	if err := t.bus.PublishInbound(ctx, in); err != nil {
		t.logger.Warn("drop inbound message", zap.String("chat", chatID), zap.Error(err))
	}
}

// extractMentions returns the mentioned user names or ids and whether the
// bot itself was mentioned.
func (t *TelegramChannel) extractMentions(text string, entities []tgbotapi.MessageEntity) ([]string, bool) {
	var (
		mentions     []string
		botMentioned bool
	)
	botHandle := "@" + strings.ToLower(t.self.UserName)
	units := utf16.Encode([]rune(text))

	for _, e := range entities {
		switch e.Type {
		case "mention":
			if e.Offset < 0 || e.Offset+e.Length > len(units) {
				continue
			}
			handle := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
			mentions = append(mentions, handle)
			if t.self.UserName != "" && strings.EqualFold(handle, botHandle) {
				botMentioned = true
			}
		case "text_mention":
			if e.User == nil {
				continue
			}
			mentions = append(mentions, strconv.FormatInt(e.User.ID, 10))
			if t.self.ID != 0 && e.User.ID == t.self.ID {
				botMentioned = true
			}
		}
	}
	if !botMentioned && t.self.UserName != "" {
		botMentioned = strings.Contains(strings.ToLower(text), botHandle)
	}
	return mentions, botMentioned
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// mentionToken is how replies address a user: their @handle when they have
// one, otherwise their display name.
func mentionToken(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return displayName(u)
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.logger.Info("stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
	t.self = bot.GetSelf()
}

// BotName returns the bot's @handle once connected.
func (t *TelegramChannel) BotName() string {
	if t.self.UserName == "" {
		return ""
	}
	return "@" + t.self.UserName
}

func (t *TelegramChannel) limiter(chatID string) *rate.Limiter {
	if l, ok := t.limiters.Load(chatID); ok {
		return l.(*rate.Limiter)
	}
	every := time.Minute / time.Duration(t.ratePerMinute)
	l, _ := t.limiters.LoadOrStore(chatID, rate.NewLimiter(rate.Every(every), 3))
	return l.(*rate.Limiter)
}

func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)

	for _, chunk := range splitMessage(msg.Content, telegramMaxLen) {
		if err := t.limiter(msg.ChatID).Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		tgMsg.ReplyToMessageID = replyTo
		tgMsg.AllowSendingWithoutReply = true
		if _, err := t.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", classify(err))
		}
		replyTo = 0
	}
	return nil
}

// Restrict mutes the target until the given time.
func (t *TelegramChannel) Restrict(ctx context.Context, target bus.Target, until time.Time, reason string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, userID, err := parseTarget(target)
	if err != nil {
		return err
	}
	if floor := time.Now().Add(minRestriction); until.Before(floor) {
		until = floor
	}

	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        until.Unix(),
		Permissions:      &tgbotapi.ChatPermissions{},
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("restrict %s: %w", target.UserID, classify(err))
	}
	t.logger.Info("restricted member",
		zap.String("chat", target.ChatID),
		zap.String("user", target.UserID),
		zap.Time("until", until),
		zap.String("reason", reason))
	return nil
}

// Unrestrict restores the default member permissions.
func (t *TelegramChannel) Unrestrict(ctx context.Context, target bus.Target) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, userID, err := parseTarget(target)
	if err != nil {
		return err
	}
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("unrestrict %s: %w", target.UserID, classify(err))
	}
	return nil
}

func parseTarget(target bus.Target) (chatID, userID int64, err error) {
	chatID, err = strconv.ParseInt(target.ChatID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q: %w", target.ChatID, err)
	}
	userID, err = strconv.ParseInt(target.UserID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid user id %q: %w", target.UserID, err)
	}
	return chatID, userID, nil
}

func apiError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// classify maps Telegram API errors onto the package sentinels.
func classify(err error) error {
	apiErr, ok := apiError(err)
	if !ok {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case apiErr.Code == http.StatusForbidden,
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "administrator"),
		strings.Contains(msg, "chat_admin_required"),
		strings.Contains(msg, "can't restrict self"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.Message)
	}
	return err
}

func isUnauthorized(err error) bool {
	if apiErr, ok := apiError(err); ok && apiErr.Code == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}

// splitMessage breaks s into chunks of at most n runes, preferring to cut
// at a newline.
func splitMessage(s string, n int) []string {
	var out []string
	r := []rune(s)
	for len(r) > n {
		cut := n
		for i := n - 1; i > n/2; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
