package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/errors"
	"github.com/jousa-sbrt/remote-bridge/health"
	"github.com/jousa-sbrt/remote-bridge/metric"
	"github.com/jousa-sbrt/remote-bridge/protocol"
)

// Server accepts inbound websocket connections, authenticates them, and
// dispatches each session into the core's producer or consumer loop.
type Server struct {
	cfg      config.RelayConfig
	core     *Core
	auth     *Authenticator
	upgrader websocket.Upgrader
	metrics  *Metrics

	httpServer  *http.Server
	lifecycleMu sync.Mutex
	running     bool
	wg          sync.WaitGroup
	startTime   time.Time
}

// NewServer creates a relay server from validated configuration. A nil
// registry disables metrics.
func NewServer(cfg config.RelayConfig, registry *metric.Registry) *Server {
	metrics := newMetrics(registry, "relay")

	return &Server{
		cfg:     cfg,
		core:    NewCore(cfg.RequestTimeout.Std(), metrics),
		auth:    NewAuthenticator(cfg.ProducerToken, cfg.ConsumerToken, cfg.AuthTimeout.Std()),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				// Role admission is by shared secret, not origin.
				return true
			},
		},
	}
}

// Core exposes the relay core, mainly for health reporting and tests.
func (s *Server) Core() *Core {
	return s.core
}

// Start begins listening for websocket connections. Non-blocking; the
// listener runs in a background goroutine until Stop.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "relay.Server", "Start", "check server state")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay listener failed", "error", err, "port", s.cfg.Port)
		}
	}()

	s.startTime = time.Now()
	s.running = true
	slog.Info("relay listening", "port", s.cfg.Port, "path", s.cfg.Path)
	return nil
}

// Stop shuts the listener down and closes all sessions, waiting up to
// timeout for session loops to finish.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.core.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.running = false
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"relay.Server", "Stop", "wait for session loops")
	}

	s.running = false
	return nil
}

// handleWebSocket upgrades a connection, authenticates it, and runs the
// role-specific loop until disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := NewSession(conn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSession(sess)
	}()
}

func (s *Server) runSession(sess *Session) {
	role, err := s.auth.Authenticate(sess)
	if err != nil {
		slog.Debug("session rejected", "session", sess.id, "error", err)
		if s.metrics != nil {
			s.metrics.authFailures.WithLabelValues(authFailureReason(err)).Inc()
		}
		return
	}

	// Auth read deadline is superseded by keepalive accounting.
	sess.startKeepalive(s.cfg.KeepaliveInterval.Std())

	if role == protocol.RoleProducer {
		s.core.RunProducer(sess)
	} else {
		s.core.RunConsumer(sess)
	}
}

// authFailureReason maps an authentication error to a metrics label.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrAuthTimeout):
		return "timeout"
	case errors.Is(err, errors.ErrAuthExpected):
		return "not_auth_message"
	case errors.Is(err, errors.ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, errors.ErrInvalidToken):
		return "invalid_token"
	default:
		return "malformed"
	}
}

// Health reports the relay's health: healthy while running; degraded when no
// producer is connected, since consumer requests will fail fast.
func (s *Server) Health() health.Status {
	s.lifecycleMu.Lock()
	running := s.running
	startTime := s.startTime
	s.lifecycleMu.Unlock()

	if !running {
		return health.NewUnhealthy("relay", "not running")
	}

	metrics := &health.Metrics{
		Uptime: time.Since(startTime),
	}

	if !s.core.HasProducer() {
		return health.NewDegraded("relay", "no producer connected").WithMetrics(metrics)
	}

	msg := fmt.Sprintf("producer connected, %d consumers, %d pending requests",
		s.core.ConsumerCount(), s.core.PendingCount())
	return health.NewHealthy("relay", msg).WithMetrics(metrics)
}
