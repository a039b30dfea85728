package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/warden/internal/admin"
	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/channel"
	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/convo"
	"github.com/stellarlinkco/warden/internal/cron"
	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/health"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/logging"
	"github.com/stellarlinkco/warden/internal/metrics"
	"github.com/stellarlinkco/warden/internal/notes"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/respond/backend"
	"github.com/stellarlinkco/warden/internal/strikes"
)

const (
	defaultRetryInterval = 5 * time.Second
	maxStartAttempts     = 3
	shutdownTimeout      = 10 * time.Second
)

// Channels is the platform side of the gateway; channel.Manager implements
// it.
type Channels interface {
	dispatch.Platform
	StartAll(ctx context.Context) error
	StopAll() error
	EnabledChannels() []string
	BotName() string
	Chats() int
}

// ChannelsFactory builds the channel set (allows mocking in tests)
type ChannelsFactory func(cfg config.ChannelsConfig, b *bus.MessageBus, logger *zap.Logger) (Channels, error)

// DefaultChannelsFactory builds a channel.Manager from the config.
func DefaultChannelsFactory(cfg config.ChannelsConfig, b *bus.MessageBus, logger *zap.Logger) (Channels, error) {
	return channel.NewManager(cfg, b, logger)
}

// Options for creating a Gateway
type Options struct {
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	ChannelsFactory ChannelsFactory
	// Generators replaces the backends built from the config.
	Generators []respond.Generator
	// Notes replaces the store opened from the config.
	Notes         notes.Store
	RetryInterval time.Duration
	SignalChan    chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	logger     *zap.Logger
	bus        *bus.MessageBus
	metrics    *metrics.Metrics
	state      dispatch.State
	channels   Channels
	pipeline   *respond.Pipeline
	dispatcher *dispatch.Dispatcher
	admin      *admin.Handler
	scheduler  *cron.Scheduler
	health     *health.Server
	notes      notes.Store

	workers       int
	retryInterval time.Duration
	signalChan    chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, Options{Logger: logger})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	g := &Gateway{
		cfg:           cfg,
		logger:        logger.Named("gateway"),
		bus:           bus.NewMessageBus(config.DefaultBufSize),
		metrics:       m,
		workers:       cfg.Agent.Workers,
		retryInterval: opts.RetryInterval,
		signalChan:    opts.SignalChan,
	}
	if g.workers <= 0 {
		g.workers = config.DefaultWorkers
	}
	if g.retryInterval <= 0 {
		g.retryInterval = defaultRetryInterval
	}

	lex, err := lexicon.Load(cfg.Moderation.LexiconFile)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	g.state = dispatch.State{
		Ledger: strikes.NewLedger(),
		Memory: convo.New(cfg.Memory.Limit,
			time.Duration(cfg.Memory.TTLSeconds)*time.Second,
			cfg.Memory.ContextSize),
		Lexicon: lex,
		Toggles: dispatch.NewToggles(cfg.Moderation.CapsEnforcement, cfg.Agent.Lenient),
	}

	g.notes = opts.Notes
	if g.notes == nil {
		store, err := notes.Open(context.Background(), cfg.Notes)
		if err != nil {
			// Notes are optional; replies just go without them.
			g.logger.Warn("notes store unavailable", zap.String("driver", cfg.Notes.Driver), zap.Error(err))
			store = notes.NopStore{}
		}
		g.notes = store
	}

	gens := opts.Generators
	if gens == nil {
		gens, err = backend.Build(cfg)
		if err != nil {
			_ = g.notes.Close()
			return nil, fmt.Errorf("build backends: %w", err)
		}
	}
	g.pipeline = respond.NewPipeline(gens,
		respond.WithTimeout(time.Duration(cfg.Backends.TimeoutSeconds)*time.Second),
		respond.WithMemory(g.state.Memory),
		respond.WithNotes(g.notes),
		respond.WithMetrics(m),
		respond.WithLogger(logger.Named("respond")))

	factory := opts.ChannelsFactory
	if factory == nil {
		factory = DefaultChannelsFactory
	}
	g.channels, err = factory(cfg.Channels, g.bus, logger)
	if err != nil {
		_ = g.notes.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}

	policy := strikes.NewPolicy(cfg.Moderation.Timeouts)
	g.dispatcher = dispatch.New(g.state, policy, g.channels, g.pipeline,
		dispatch.WithOwner(cfg.Agent.OwnerID),
		dispatch.WithCommandPrefix(cfg.Agent.CommandPrefix),
		dispatch.WithMetrics(m),
		dispatch.WithLogger(logger.Named("dispatch")))
	g.admin = admin.New(g.state, policy, g.channels, g.pipeline, g.notes,
		admin.WithOwner(cfg.Agent.OwnerID),
		admin.WithPrefix(cfg.Agent.CommandPrefix),
		admin.WithLexiconPath(cfg.Moderation.LexiconFile),
		admin.WithPlatformInfo(g.channels),
		admin.WithLogger(logger.Named("admin")))

	g.scheduler = cron.NewScheduler(logger)
	if err := g.scheduler.Add("memory-sweep", cfg.Memory.Sweep, cron.MemorySweep(g.state.Memory)); err != nil {
		_ = g.notes.Close()
		return nil, err
	}
	if cfg.Agent.OwnerID != "" && cfg.Gateway.StrikeSummary != "" {
		// The owner's private chat shares the owner's user id.
		dest := bus.Target{Channel: "telegram", ChatID: cfg.Agent.OwnerID}
		if err := g.scheduler.Add("strike-summary", cfg.Gateway.StrikeSummary, cron.StrikeSummary(g.state.Ledger, g.bus, dest)); err != nil {
			_ = g.notes.Close()
			return nil, err
		}
	}

	g.health = health.New(cfg.Gateway.Host, cfg.Gateway.Port, g.state, g.channels, m,
		health.WithLogger(logger.Named("health")))
	return g, nil
}

// State exposes the shared moderation state.
func (g *Gateway) State() dispatch.State { return g.state }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.startChannels(ctx); err != nil {
		_ = g.Shutdown()
		return err
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.bus.DispatchOutbound(egCtx)
		return nil
	})
	eg.Go(func() error {
		return g.health.Start()
	})
	eg.Go(func() error {
		<-egCtx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return g.health.Shutdown(sctx)
	})
	if path := g.cfg.Moderation.LexiconFile; g.cfg.Moderation.WatchLexicon && path != "" {
		eg.Go(func() error {
			return g.state.Lexicon.Watch(egCtx, path, g.logger.Named("lexicon"))
		})
	}
	g.startWorkers(egCtx, eg)

	if err := g.scheduler.Start(egCtx); err != nil {
		g.logger.Warn("scheduler start failed", zap.Error(err))
	}

	g.logger.Info("running",
		zap.String("addr", g.health.Addr()),
		zap.Int("workers", g.workers))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	var runErr error
	select {
	case <-sigCh:
		g.logger.Info("shutting down")
	case <-egCtx.Done():
		runErr = context.Cause(egCtx)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}

	cancel()
	if err := eg.Wait(); err != nil && runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}
	if err := g.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// startChannels connects the channels, retrying transient failures.
// Rejected credentials fail immediately.
func (g *Gateway) startChannels(ctx context.Context) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := g.channels.StartAll(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, channel.ErrUnauthorized) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.retryInterval)),
		backoff.WithMaxTries(maxStartAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("channel start failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max", maxStartAttempts),
				zap.Duration("in", next),
				zap.Error(err))
		}))
	if err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	return nil
}

// startWorkers fans inbound messages out to a fixed pool. Messages from the
// same user in the same chat always land on the same worker, so they are
// handled in arrival order.
func (g *Gateway) startWorkers(ctx context.Context, eg *errgroup.Group) {
	queues := make([]chan bus.InboundMessage, g.workers)
	for i := range queues {
		q := make(chan bus.InboundMessage, config.DefaultBufSize)
		queues[i] = q
		eg.Go(func() error {
			for {
				select {
				case msg := <-q:
					g.handle(ctx, msg)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	eg.Go(func() error {
		for {
			select {
			case msg := <-g.bus.Inbound:
				select {
				case queues[shardFor(msg, len(queues))] <- msg:
				case <-ctx.Done():
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func shardFor(msg bus.InboundMessage, n int) int {
	return int(xxhash.Sum64String(msg.SessionKey()+":"+msg.SenderID) % uint64(n))
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	id := uuid.NewString()
	msg.Metadata["msg_id"] = id
	logger := g.logger.With(zap.String("msg_id", id))
	logger.Debug("inbound",
		zap.String("channel", msg.Channel),
		zap.String("user", msg.SenderID),
		zap.String("text", logging.Truncate(msg.Content, 80)))

	if g.admin.IsCommand(msg.Content) {
		handled, err := g.admin.Handle(ctx, msg)
		if err != nil {
			logger.Error("command failed", zap.Error(err))
		}
		if handled {
			return
		}
	}
	if _, err := g.dispatcher.Handle(ctx, msg); err != nil {
		logger.Error("dispatch failed", zap.Error(err))
	}
}

func (g *Gateway) Shutdown() error {
	g.scheduler.Stop()
	_ = g.channels.StopAll()
	if err := g.notes.Close(); err != nil {
		g.logger.Warn("close notes store failed", zap.Error(err))
	}
	g.logger.Info("shutdown complete")
	return nil
}
