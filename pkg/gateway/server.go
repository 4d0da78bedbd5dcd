package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Request headers understood by the gateway.
const (
	SecretHeader    = "X-Toolgate-Secret"
	CallerHeader    = "X-Caller-Id"
	ThreadHeader    = "X-Thread-Id"
	RequestIDHeader = "X-Request-Id"
	TraceIDHeader   = "X-Trace-Id"
)

const (
	DefaultTickInterval    = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	maxRequestBody = 1 << 20
)

// Config holds server configuration
type Config struct {
	Host string
	// Port 0 picks a free port; see Addr.
	Port         int
	SharedSecret string
	// TickInterval defaults to 30s; a negative value disables ticks.
	TickInterval      time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int
	MaxConcurrent     int

	Tools *toolregistry.Registry
	// Limiter holds per-client request counters. A private one is
	// created when nil.
	Limiter *ratelimit.Limiter
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// CreditsHandler is mounted at /v1/credits/ behind the shared secret.
	CreditsHandler http.Handler
	Logger         zerolog.Logger
}

// Server exposes a tool registry over HTTP JSON-RPC and WebSocket.
type Server struct {
	cfg         Config
	addr        string
	logger      zerolog.Logger
	tools       *toolregistry.Registry
	clients     *ClientRegistry
	router      *RPCRouter
	authHandler *AuthHandler
	broadcaster *EventBroadcaster
	upgrader    websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	// baseCtx parents WebSocket requests; it is cancelled on Stop after
	// in-flight work drains or the timeout passes.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	stopping   atomic.Bool
	inFlight   sync.WaitGroup
	stopTicks  context.CancelFunc
	ticksDone  chan struct{}
}

// NewServer validates cfg and registers the built-in methods.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Port < 0 || cfg.Port > 65535:
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	case cfg.SharedSecret == "":
		return nil, fmt.Errorf("shared secret is required")
	case cfg.Tools == nil:
		return nil, fmt.Errorf("tool registry is required")
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.Config{Logger: &cfg.Logger})
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger:      logger,
		tools:       cfg.Tools,
		clients:     clients,
		router:      NewRPCRouter(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		broadcaster: NewEventBroadcaster(clients, logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.registerBuiltinMethods()
	return s, nil
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("/metrics", s.cfg.MetricsHandler)
	}
	if s.cfg.CreditsHandler != nil {
		mux.Handle("/v1/credits/", s.requireSecret(s.cfg.CreditsHandler))
	}
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	if s.cfg.TickInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopTicks = cancel
		s.ticksDone = make(chan struct{})
		go s.runTicks(ctx, s.cfg.TickInterval)
	}
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop tells clients the server is going away, waits for in-flight
// requests up to the shutdown timeout, then closes every connection.
// Calls after the first are no-ops.
func (s *Server) Stop(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Info().Msg("Shutting down Gateway Server")
	if s.stopTicks != nil {
		s.stopTicks()
		<-s.ticksDone
	}

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown context done, forcing close")
	}
	s.cancelBase()

	for _, c := range s.clients.All() {
		_ = c.Conn.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) runTicks(ctx context.Context, every time.Duration) {
	defer close(s.ticksDone)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcaster.Broadcast(EventTick, map[string]interface{}{
				"status":  "alive",
				"clients": s.clients.Count(),
			})
		}
	}
}

// Broadcast sends an event to every authenticated client.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// NotifyToolsChanged tells clients to refresh their tool lists.
func (s *Server) NotifyToolsChanged() {
	s.broadcaster.Broadcast(EventToolsChanged, map[string]interface{}{
		"total": s.tools.Len(),
	})
}

// RegisterMethod adds or replaces an RPC method.
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod removes an RPC method.
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// GetConnectedClients describes the connected WebSocket clients.
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Describe()
}
