// Package bridge implements the producer-side agent: it makes the single
// outbound connection from behind the network boundary to the relay,
// authenticates as the producer, and answers forwarded data requests through
// an injected resolver. The relay never reaches in; the agent always dials
// out and reconnects with backoff when the connection drops.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/errors"
	"github.com/jousa-sbrt/remote-bridge/health"
	"github.com/jousa-sbrt/remote-bridge/metric"
	"github.com/jousa-sbrt/remote-bridge/pkg/retry"
	"github.com/jousa-sbrt/remote-bridge/protocol"
	"github.com/jousa-sbrt/remote-bridge/resolver"
)

// Agent maintains the producer connection to the relay and serves requests.
type Agent struct {
	cfg      config.BridgeConfig
	resolver resolver.Resolver
	metrics  *Metrics

	// Gorilla permits one concurrent writer per connection; requests are
	// resolved in parallel but responses serialize on this mutex.
	writeMu sync.Mutex

	connected    atomic.Bool
	lastActivity atomic.Value // time.Time
	startTime    time.Time
}

// NewAgent creates a bridge agent. A nil registry disables metrics.
func NewAgent(cfg config.BridgeConfig, res resolver.Resolver, registry *metric.Registry) *Agent {
	return &Agent{
		cfg:      cfg,
		resolver: res,
		metrics:  newMetrics(registry, "bridge"),
	}
}

// Run connects to the relay and serves requests until ctx is cancelled,
// reconnecting with exponential backoff after every disconnect. A session
// that survived authentication resets the backoff.
func (a *Agent) Run(ctx context.Context) error {
	a.startTime = time.Now()

	for {
		err := retry.Do(ctx, retry.ForeverConfig(), func() error {
			return a.connectAndServe(ctx)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// retry.Do with ForeverConfig only returns on context
			// cancellation or a non-retryable error.
			return err
		}
		// Session ended after successful auth; reconnect immediately with
		// fresh backoff.
		slog.Info("relay connection lost, reconnecting")
	}
}

// connectAndServe performs one dial/auth/serve cycle. It returns nil when a
// successfully authenticated session ends (so the caller resets backoff) and
// an error when the dial or handshake fails.
func (a *Agent) connectAndServe(ctx context.Context) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, a.cfg.RelayURL, nil)
	if err != nil {
		a.metrics.trackError("connect_error")
		return errors.WrapTransient(err, "bridge.Agent", "connectAndServe", "dial relay")
	}
	defer conn.Close()

	if err := a.authenticate(conn); err != nil {
		a.metrics.trackError("auth_error")
		return err
	}

	a.connected.Store(true)
	if a.metrics != nil {
		a.metrics.connected.Set(1)
		a.metrics.connectsTotal.Inc()
	}
	slog.Info("connected to relay, waiting for requests", "url", a.cfg.RelayURL)

	a.serve(ctx, conn)

	a.connected.Store(false)
	if a.metrics != nil {
		a.metrics.connected.Set(0)
	}
	return nil
}

// authenticate performs the producer auth handshake.
func (a *Agent) authenticate(conn *websocket.Conn) error {
	authMsg, err := json.Marshal(protocol.Auth(protocol.RoleProducer, a.cfg.ProducerToken))
	if err != nil {
		return errors.WrapFatal(err, "bridge.Agent", "authenticate", "marshal auth message")
	}

	deadline := time.Now().Add(a.cfg.AuthTimeout.Std())
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, authMsg); err != nil {
		return errors.WrapTransient(err, "bridge.Agent", "authenticate", "send auth message")
	}

	_ = conn.SetReadDeadline(deadline)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return errors.WrapTransient(err, "bridge.Agent", "authenticate", "read auth reply")
	}

	reply, err := protocol.Parse(raw)
	if err != nil {
		return errors.WrapInvalid(err, "bridge.Agent", "authenticate", "parse auth reply")
	}
	if reply.Type != protocol.TypeAuthOK {
		return retry.NonRetryable(errors.WrapInvalid(
			errors.ErrAuthFailed, "bridge.Agent", "authenticate", "check auth reply"))
	}

	// Clear handshake deadlines; keepalive accounting takes over.
	_ = conn.SetWriteDeadline(time.Time{})
	return nil
}

// serve reads forwarded requests until the connection fails or ctx ends.
func (a *Agent) serve(ctx context.Context, conn *websocket.Conn) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.keepalive(serveCtx, conn)
	go func() {
		// Unblock the read loop when the caller shuts down.
		<-serveCtx.Done()
		_ = conn.Close()
	}()

	pongWait := 2 * a.cfg.KeepaliveInterval.Std()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.metrics.trackError("read_error")
			}
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			a.metrics.trackError("parse_error")
			continue
		}
		if msg.Type != protocol.TypeRequest {
			continue
		}

		a.lastActivity.Store(time.Now())
		go a.handleRequest(serveCtx, conn, msg)
	}
}

// keepalive pings the relay at the configured interval.
func (a *Agent) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.KeepaliveInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleRequest resolves one forwarded request and writes the response.
func (a *Agent) handleRequest(ctx context.Context, conn *websocket.Conn, msg *protocol.Message) {
	started := time.Now()

	result, err := a.resolver.Resolve(ctx, msg.Resource, msg.Params)
	if err != nil {
		slog.Error("resolve failed", "resource", msg.Resource, "request_id", msg.RequestID, "error", err)
		a.metrics.trackError("resolve_error")
		result = resolver.UnknownResource()
	}

	if a.metrics != nil {
		a.metrics.resolveDuration.WithLabelValues(msg.Resource).Observe(time.Since(started).Seconds())
		a.metrics.requestsHandled.WithLabelValues(msg.Resource, result.Status).Inc()
	}

	response := &protocol.Message{
		Type:      protocol.TypeResponse,
		RequestID: msg.RequestID,
		Status:    result.Status,
		Error:     result.Error,
	}
	if result.Status == protocol.StatusOK {
		data, err := json.Marshal(result.Data)
		if err != nil {
			slog.Error("response encode failed", "request_id", msg.RequestID, "error", err)
			a.metrics.trackError("encode_error")
			return
		}
		response.Data = data
	}

	if err := a.send(conn, response); err != nil {
		slog.Debug("response send failed", "request_id", msg.RequestID, "error", err)
		a.metrics.trackError("send_error")
	}
}

func (a *Agent) send(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "bridge.Agent", "send", "marshal message")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "bridge.Agent", "send", "write message")
	}
	return nil
}

// Health reports the agent's health: unhealthy while disconnected from the
// relay, since no requests can be served.
func (a *Agent) Health() health.Status {
	if !a.connected.Load() {
		return health.NewUnhealthy("bridge", "not connected to relay")
	}

	metrics := &health.Metrics{
		Uptime: time.Since(a.startTime),
	}
	if v := a.lastActivity.Load(); v != nil {
		metrics.LastActivity = v.(time.Time)
	}

	return health.NewHealthy("bridge", fmt.Sprintf("connected to %s", a.cfg.RelayURL)).
		WithMetrics(metrics)
}
