// Package gateway serves the card swap hub over WebSocket: req/res/event
// JSON frames, one Client per connection, method dispatch by name.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/cardswap/internal/config"
)

// Server owns the HTTP listener, the connected clients and the method router.
type Server struct {
	cfg         config.GatewayConfig
	version     string
	upgrader    websocket.Upgrader
	router      *MethodRouter
	rateLimiter *RateLimiter
	mux         *http.ServeMux
	startedAt   time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	baseCtx context.Context

	onDisconnect   []func(*Client)
	statusFn       func() map[string]any
	tracerProvider trace.TracerProvider
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by connect and status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithRateLimiter applies rl to every command except connect and health.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithStatus merges fn's output into the status method response.
func WithStatus(fn func() map[string]any) Option {
	return func(s *Server) { s.statusFn = fn }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

func NewServer(cfg config.GatewayConfig, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		version:   "dev",
		mux:       http.NewServeMux(),
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
		baseCtx:   context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.cfg.AllowedOrigins)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewMethodRouter(s)

	s.mux.HandleFunc("GET "+cfg.Path, s.handleWebSocket)
	if cfg.Path != "/ws" {
		s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	}
	return s
}

// Router returns the method router so method groups can register handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// Handle mounts an additional HTTP handler on the gateway mux.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// OnDisconnect registers fn to run after a client's read pump exits and
// before its send buffer is closed.
func (s *Server) OnDisconnect(fn func(*Client)) {
	s.onDisconnect = append(s.onDisconnect, fn)
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and closes every open WebSocket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	// Hijacked connections are not tracked by http.Server.
	s.mu.RLock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.RUnlock()

	slog.Info("gateway stopped")
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s, s.cfg.SendBuffer)
	s.mu.Lock()
	s.clients[client.id] = client
	ctx := s.baseCtx
	s.mu.Unlock()
	slog.Debug("client connected", "client", client.id, "remote", client.remoteAddr)

	client.Run(ctx)
	s.unregister(client)
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	for _, fn := range s.onDisconnect {
		fn(c)
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Forget(c.id)
	}
	c.Close()
	slog.Debug("client disconnected", "client", c.id, "devices", len(c.Devices()))
}

// isOriginAllowed accepts requests without an Origin header (native apps).
// With no allow-list configured every origin is accepted.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(origin, a) || strings.EqualFold(parsed.Hostname(), a) {
			return true
		}
	}
	return false
}
