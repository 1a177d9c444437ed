package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/generation"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/metrics"
	"github.com/Tyrowin/chathub/internal/protocol"
	"github.com/Tyrowin/chathub/internal/provider"
)

// ErrHubStopped is returned when work is submitted after shutdown.
var ErrHubStopped = errors.New("hub is stopped")

type inboundFrame struct {
	client *Client
	in     protocol.Inbound
}

// Hub owns all chat state. Every mutation runs on the goroutine executing
// Run; connections, generation tasks and timers reach it through channels.
type Hub struct {
	cfg      config.Config
	ids      *identity.Registry
	channels *channel.Registry
	history  *history.Store
	conns    *connections
	gen      *generation.Supervisor
	auth     auth.Authenticator
	metrics  *metrics.Collectors
	origins  originPolicy
	commands map[string]commandHandler

	now   func() time.Time
	newID func() string

	// Loop-owned state.
	aiEnabled bool
	tasks     map[string]channel.Channel

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	actions    chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type hubSettings struct {
	auth      auth.Authenticator
	adapter   provider.Adapter
	metrics   *metrics.Collectors
	persister identity.BanPersister
	bans      *identity.BanSnapshot
	now       func() time.Time
}

// Option configures a Hub.
type Option func(*hubSettings)

// WithAuthenticator sets how WebSocket upgrade tokens are verified.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *hubSettings) { s.auth = a }
}

// WithProvider sets the generation backend. Without one, @ai is unavailable.
func WithProvider(a provider.Adapter) Option {
	return func(s *hubSettings) { s.adapter = a }
}

// WithMetrics records hub activity into m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *hubSettings) { s.metrics = m }
}

// WithBanStore restores snap and persists every later ban change through p.
func WithBanStore(p identity.BanPersister, snap identity.BanSnapshot) Option {
	return func(s *hubSettings) {
		s.persister = p
		s.bans = &snap
	}
}

// WithClock overrides the time source used for timestamps, mutes and
// retention.
func WithClock(now func() time.Time) Option {
	return func(s *hubSettings) { s.now = now }
}

// NewHub builds a hub from cfg. The returned hub does nothing until Run.
func NewHub(cfg config.Config, opts ...Option) *Hub {
	settings := hubSettings{now: time.Now}
	for _, opt := range opts {
		opt(&settings)
	}

	idOpts := []identity.Option{
		identity.WithClock(settings.now),
		identity.WithOriginBinding(cfg.Moderation.EnforceOriginBinding),
	}
	if settings.persister != nil {
		idOpts = append(idOpts, identity.WithPersister(settings.persister))
	}
	ids := identity.NewRegistry(idOpts...)
	if settings.bans != nil {
		ids.Restore(*settings.bans)
	}

	store := history.NewStore(cfg.Chat.HistoryLimit)
	store.SetClock(settings.now)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		ids:        ids,
		channels:   channel.NewRegistry(cfg.Chat.GroupNameMax),
		history:    store,
		conns:      newConnections(),
		auth:       settings.auth,
		metrics:    settings.metrics,
		origins:    newOriginPolicy(cfg.Server.AllowedOrigins),
		now:        settings.now,
		newID:      uuid.NewString,
		aiEnabled:  cfg.Generation.Enabled,
		tasks:      make(map[string]channel.Channel),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
		actions:    make(chan func(), 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	var genOpts []generation.Option
	if settings.metrics != nil {
		genOpts = append(genOpts, generation.WithObserver(settings.metrics))
	}
	h.gen = generation.NewSupervisor(settings.adapter, generationSink{hub: h}, genOpts...)
	h.commands = h.commandTable()
	return h
}

// Identities exposes the moderation registry, mainly for tooling and tests.
func (h *Hub) Identities() *identity.Registry { return h.ids }

// Run is the hub event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case c := <-h.register:
			if c == nil {
				logger.Warn("nil_client_registration")
				continue
			}
			h.connect(c)
		case c := <-h.unregister:
			h.disconnect(c)
		case f := <-h.inbound:
			h.dispatch(f.client, f.in)
		case fn := <-h.actions:
			fn()
		}
	}
}

// join hands a new client to the loop.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// leave tells the loop a connection ended.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// submit queues an inbound frame for the loop.
func (h *Hub) submit(c *Client, in protocol.Inbound) bool {
	select {
	case h.inbound <- inboundFrame{client: c, in: in}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// enqueue runs fn on the loop goroutine.
func (h *Hub) enqueue(fn func()) bool {
	select {
	case h.actions <- fn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// startPumps launches the socket goroutines. Clients without a socket are
// driven directly through their send channel.
func (h *Hub) startPumps(c *Client, read bool) {
	if c.conn == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	if read {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}
}

func (h *Hub) shutdownClients() {
	clients := h.conns.snapshot()
	for _, c := range clients {
		c.closeSend()
	}
	logger.Info("clients_closed", zap.Int("count", len(clients)))
}

// Shutdown stops generation (finalizing every task), then the loop and the
// client goroutines. It returns context.DeadlineExceeded if timeout elapses
// first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logger.Info("hub_shutdown_started")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.gen.Shutdown(ctx); err != nil {
		logger.Warn("generation_shutdown_incomplete", zap.Error(err))
	}
	// Let queued finalizations land before the loop stops.
	drained := make(chan struct{})
	if h.enqueue(func() { close(drained) }) {
		select {
		case <-drained:
		case <-ctx.Done():
		}
	}

	h.cancel()
	<-h.done

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		logger.Info("hub_shutdown_complete")
		return nil
	case <-ctx.Done():
		logger.Warn("hub_shutdown_timeout")
		return context.DeadlineExceeded
	}
}
