package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jousa-sbrt/remote-bridge/protocol"
)

// Core owns the single current producer session, the set of active consumer
// sessions, and the pending-request table. The producer reference is
// replaced atomically on reconnect: the relay never forwards to more than
// one producer, and a superseded producer becomes stale but is not forcibly
// closed.
type Core struct {
	requestTimeout time.Duration

	mu         sync.Mutex
	producer   *Session
	generation uint64
	consumers  map[*Session]struct{}

	pending *PendingTable
	metrics *Metrics
}

// NewCore creates a relay core with the given request timeout.
func NewCore(requestTimeout time.Duration, metrics *Metrics) *Core {
	return &Core{
		requestTimeout: requestTimeout,
		consumers:      make(map[*Session]struct{}),
		pending:        NewPendingTable(),
		metrics:        metrics,
	}
}

// RunProducer registers the session as the current producer and processes
// its inbound messages until the connection ends. Blocks until disconnect.
func (c *Core) RunProducer(sess *Session) {
	c.mu.Lock()
	c.generation++
	sess.generation = c.generation
	if c.producer != nil {
		slog.Info("producer replaced, previous connection is now stale",
			"stale_session", c.producer.id,
			"session", sess.id,
			"generation", sess.generation)
	}
	c.producer = sess
	c.mu.Unlock()

	slog.Info("producer connected", "session", sess.id, "generation", sess.generation)
	if c.metrics != nil {
		c.metrics.sessionsActive.WithLabelValues(protocol.RoleProducer).Inc()
		c.metrics.sessionsTotal.WithLabelValues(protocol.RoleProducer).Inc()
	}

	defer c.cleanupProducer(sess)

	for {
		raw, err := sess.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			// Malformed payloads are discarded, not fatal.
			continue
		}
		if msg.Type != protocol.TypeResponse || msg.RequestID == "" {
			continue
		}

		c.routeResponse(sess, msg.RequestID, raw)
	}
}

// routeResponse matches a producer response to the waiting consumer and
// forwards the payload verbatim. Responses for unknown or already-resolved
// ids, and responses from a stale producer generation, are discarded.
func (c *Core) routeResponse(sess *Session, requestID string, raw []byte) {
	c.mu.Lock()
	current := c.generation
	c.mu.Unlock()

	if sess.generation != current {
		// A superseded producer can no longer resolve anything; its
		// entries have either been re-issued or will time out.
		slog.Debug("discarding response from stale producer",
			"session", sess.id, "request_id", requestID,
			"generation", sess.generation, "current", current)
		if c.metrics != nil {
			c.metrics.responsesDiscarded.WithLabelValues("stale_producer").Inc()
		}
		return
	}

	entry, ok := c.pending.ResolveForGeneration(requestID, sess.generation)
	if !ok {
		slog.Debug("discarding response for unknown request",
			"session", sess.id, "request_id", requestID)
		if c.metrics != nil {
			c.metrics.responsesDiscarded.WithLabelValues("unknown_id").Inc()
			c.metrics.pendingRequests.Set(float64(c.pending.Len()))
		}
		return
	}

	if err := entry.consumer.SendText(raw); err != nil {
		// Consumer presumed gone; its own disconnect cleanup reconciles.
		slog.Debug("response delivery failed, consumer presumed gone",
			"request_id", requestID, "consumer", entry.consumer.id)
	}

	if c.metrics != nil {
		c.metrics.responsesRelayed.Inc()
		c.metrics.requestDuration.Observe(time.Since(entry.createdAt).Seconds())
		c.metrics.pendingRequests.Set(float64(c.pending.Len()))
	}
}

// RunConsumer adds the session to the consumer set and processes its inbound
// messages until the connection ends. Blocks until disconnect.
func (c *Core) RunConsumer(sess *Session) {
	c.mu.Lock()
	c.consumers[sess] = struct{}{}
	c.mu.Unlock()

	slog.Info("consumer connected", "session", sess.id)
	if c.metrics != nil {
		c.metrics.sessionsActive.WithLabelValues(protocol.RoleConsumer).Inc()
		c.metrics.sessionsTotal.WithLabelValues(protocol.RoleConsumer).Inc()
	}

	defer c.cleanupConsumer(sess)

	for {
		raw, err := sess.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			continue
		}
		if msg.Type != protocol.TypeGet {
			continue
		}

		c.handleGet(sess, msg)
	}
}

// handleGet forwards one consumer request to the producer. The pending entry
// is registered before the forward; a failed forward rolls it back and
// synthesizes an immediate error.
func (c *Core) handleGet(sess *Session, msg *protocol.Message) {
	// Client-supplied correlation ids are honored so retries can reuse an
	// id; absent one, the relay assigns a fresh uuid.
	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.mu.Lock()
	producer := c.producer
	c.mu.Unlock()

	if producer == nil {
		c.synthesizeError(sess, requestID, protocol.ErrProducerOffline)
		return
	}

	if !c.pending.Register(requestID, sess, producer.generation) {
		// Correlation id already outstanding; the first request wins.
		slog.Debug("duplicate request id ignored", "request_id", requestID, "session", sess.id)
		return
	}

	if err := producer.Send(protocol.Request(requestID, msg.Resource, msg.Params)); err != nil {
		c.pending.Resolve(requestID)
		c.synthesizeError(sess, requestID, protocol.ErrSendFailed)
		return
	}

	timer := time.AfterFunc(c.requestTimeout, func() {
		c.expireRequest(requestID, sess)
	})
	if !c.pending.SetTimer(requestID, timer) {
		// Resolved before the timer could be attached.
		timer.Stop()
	}

	if c.metrics != nil {
		c.metrics.requestsForwarded.Inc()
		c.metrics.pendingRequests.Set(float64(c.pending.Len()))
	}
}

// expireRequest is the per-request timeout supervisor. It fails the request
// only if the entry is still mapped to the consumer that created it.
func (c *Core) expireRequest(requestID string, sess *Session) {
	if !c.pending.CompareAndRemove(requestID, sess) {
		return
	}

	slog.Debug("request timed out", "request_id", requestID, "session", sess.id)
	c.synthesizeError(sess, requestID, protocol.ErrTimeout)
	if c.metrics != nil {
		c.metrics.pendingRequests.Set(float64(c.pending.Len()))
	}
}

// synthesizeError delivers a relay-generated error response to a consumer.
// Send failures are swallowed; the consumer's own disconnect detection
// reconciles.
func (c *Core) synthesizeError(sess *Session, requestID, tag string) {
	if err := sess.Send(protocol.ErrorResponse(requestID, tag)); err != nil {
		slog.Debug("error response delivery failed",
			"request_id", requestID, "tag", tag, "session", sess.id)
	}
	if c.metrics != nil {
		c.metrics.errorsSynthesized.WithLabelValues(tag).Inc()
	}
}

// cleanupProducer clears the producer reference if it still refers to this
// exact session. A newer producer that reconnected first is left alone.
// Idempotent.
func (c *Core) cleanupProducer(sess *Session) {
	c.mu.Lock()
	if c.producer == sess {
		c.producer = nil
	}
	c.mu.Unlock()

	sess.Close()
	slog.Info("producer disconnected", "session", sess.id, "generation", sess.generation)
	if c.metrics != nil {
		c.metrics.sessionsActive.WithLabelValues(protocol.RoleProducer).Dec()
	}
}

// cleanupConsumer removes the session from the consumer set and abandons its
// outstanding requests. Idempotent.
func (c *Core) cleanupConsumer(sess *Session) {
	c.mu.Lock()
	_, present := c.consumers[sess]
	delete(c.consumers, sess)
	c.mu.Unlock()

	abandoned := c.pending.RemoveConsumer(sess)
	sess.Close()

	slog.Info("consumer disconnected", "session", sess.id, "abandoned_requests", len(abandoned))
	if c.metrics != nil && present {
		c.metrics.sessionsActive.WithLabelValues(protocol.RoleConsumer).Dec()
		c.metrics.pendingRequests.Set(float64(c.pending.Len()))
	}
}

// HasProducer reports whether a producer is currently connected.
func (c *Core) HasProducer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producer != nil
}

// ConsumerCount returns the number of connected consumers.
func (c *Core) ConsumerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

// PendingCount returns the number of outstanding requests.
func (c *Core) PendingCount() int {
	return c.pending.Len()
}

// CloseAll closes the producer and all consumers. Used during shutdown.
func (c *Core) CloseAll() {
	c.mu.Lock()
	producer := c.producer
	sessions := make([]*Session, 0, len(c.consumers))
	for sess := range c.consumers {
		sessions = append(sessions, sess)
	}
	c.mu.Unlock()

	if producer != nil {
		producer.Close()
	}
	for _, sess := range sessions {
		sess.Close()
	}
}
