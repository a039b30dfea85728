// Package health serves the liveness banner, a JSON status report and the
// prometheus metrics.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/metrics"
)

const Banner = "Warden moderation bot is running! 🤖"

// PlatformInfo reports what the bot is connected to.
type PlatformInfo interface {
	BotName() string
	Chats() int
}

// Status is the body of GET /status.
type Status struct {
	Status           string    `json:"status"`
	Bot              string    `json:"bot"`
	Chats            int       `json:"chats"`
	CapsEnforcement  bool      `json:"capsEnforcement"`
	TotalStrikes     int       `json:"totalStrikes"`
	UsersWithStrikes int       `json:"usersWithStrikes"`
	UptimeSeconds    int64     `json:"uptimeSeconds"`
	StartedAt        time.Time `json:"startedAt"`
}

type Server struct {
	app     *fiber.App
	addr    string
	mu      sync.Mutex
	ln      net.Listener
	closed  bool
	state   dispatch.State
	info    PlatformInfo
	started time.Time
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(host string, port int, state dispatch.State, info PlatformInfo, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		state:  state,
		info:   info,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()

	s.app = fiber.New(fiber.Config{
		AppName:               "warden",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	s.app.Use(recover.New())

	if m != nil {
		prom := fiberprometheus.NewWithRegistry(m.Registry, "warden", "warden", "http", nil)
		s.app.Use(prom.Middleware)
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	s.app.Get("/", s.handleBanner)
	s.app.Get("/status", s.handleStatus)
	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Addr is the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Start serves until Shutdown is called. It returns nil immediately if
// Shutdown already ran.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("health server listen: %w", err)
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
	if err := s.app.Listener(ln); err != nil && !s.isClosed() {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := s.app.ShutdownWithContext(ctx)
	_ = ln.Close()
	return err
}

func (s *Server) handleBanner(c *fiber.Ctx) error {
	return c.SendString(Banner)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Snapshot())
}

// Snapshot builds the current status report.
func (s *Server) Snapshot() Status {
	st := Status{
		Status:    "online",
		Bot:       "Not connected",
		StartedAt: s.started,
	}
	if s.info != nil {
		if name := s.info.BotName(); name != "" {
			st.Bot = name
		}
		st.Chats = s.info.Chats()
	}
	if s.state.Toggles != nil {
		st.CapsEnforcement = s.state.Toggles.CapsEnforcement()
	}
	if s.state.Ledger != nil {
		st.UsersWithStrikes, st.TotalStrikes = s.state.Ledger.Totals()
	}
	st.UptimeSeconds = int64(s.now().Sub(s.started) / time.Second)
	return st
}
