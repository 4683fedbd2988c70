package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/protocol"
)

const (
	testProducerToken = "producer-secret"
	testConsumerToken = "consumer-secret"
)

// getAvailablePort asks the kernel for a free TCP port
func getAvailablePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startTestServer starts a relay with short test timings and returns its url
func startTestServer(t *testing.T, mutate func(*config.RelayConfig)) (*Server, string) {
	t.Helper()

	cfg := config.DefaultRelay()
	cfg.Port = getAvailablePort(t)
	cfg.ProducerToken = testProducerToken
	cfg.ConsumerToken = testConsumerToken
	cfg.AuthTimeout = config.Duration(2 * time.Second)
	cfg.RequestTimeout = config.Duration(300 * time.Millisecond)
	cfg.KeepaliveInterval = config.Duration(time.Second)
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })

	return srv, fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.Port, cfg.Path)
}

// dialRelay dials the relay, retrying briefly while the listener comes up
func dialRelay(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", url, err)
	return nil
}

// connectAs dials and authenticates a session with the given role
func connectAs(t *testing.T, url, role, token string) *websocket.Conn {
	t.Helper()

	conn := dialRelay(t, url)
	require.NoError(t, conn.WriteJSON(protocol.Auth(role, token)))

	reply := readMessage(t, conn, 2*time.Second)
	require.Equal(t, protocol.TypeAuthOK, reply.Type)
	require.Equal(t, role, reply.Role)
	return conn
}

// readMessage reads and parses one message within the deadline
func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) *protocol.Message {
	t.Helper()

	raw := readRaw(t, conn, timeout)
	msg, err := protocol.Parse(raw)
	require.NoError(t, err)
	return msg
}

func readRaw(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

// waitForProducer blocks until the core has registered a producer; the
// registration happens just after the auth reply is written.
func waitForProducer(t *testing.T, srv *Server) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Core().HasProducer() },
		time.Second, 5*time.Millisecond)
}

// expectNoMessage asserts that nothing arrives within the window
func expectNoMessage(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	require.True(t, ok, "expected read timeout, got: %v", err)
	require.True(t, netErr.Timeout())
}

// expectCloseCode asserts the connection is closed with the given code
func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, code), "expected close code %d, got: %v", code, err)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_ProducerAndConsumer(t *testing.T) {
	_, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	defer producer.Close()
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)
	defer consumer.Close()
}

func TestAuth_InvalidToken(t *testing.T) {
	_, url := startTestServer(t, nil)

	conn := dialRelay(t, url)
	require.NoError(t, conn.WriteJSON(protocol.Auth(protocol.RoleProducer, "wrong")))
	expectCloseCode(t, conn, protocol.CloseInvalidToken)
}

func TestAuth_UnknownRole(t *testing.T) {
	_, url := startTestServer(t, nil)

	conn := dialRelay(t, url)
	require.NoError(t, conn.WriteJSON(protocol.Auth("admin", testProducerToken)))
	expectCloseCode(t, conn, protocol.CloseInvalidToken)
}

func TestAuth_NotAuthMessage(t *testing.T) {
	_, url := startTestServer(t, nil)

	conn := dialRelay(t, url)
	require.NoError(t, conn.WriteJSON(protocol.Get("trades", nil, "r1")))
	expectCloseCode(t, conn, protocol.CloseAuthExpected)
}

func TestAuth_MalformedMessage(t *testing.T) {
	_, url := startTestServer(t, nil)

	conn := dialRelay(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	expectCloseCode(t, conn, protocol.CloseAuthFailed)
}

func TestAuth_Timeout(t *testing.T) {
	_, url := startTestServer(t, func(cfg *config.RelayConfig) {
		cfg.AuthTimeout = config.Duration(100 * time.Millisecond)
	})

	conn := dialRelay(t, url)
	// Send nothing; the relay closes the connection at the deadline.
	expectCloseCode(t, conn, protocol.CloseAuthFailed)
}

// =============================================================================
// REQUEST ROUTING
// =============================================================================

func TestGet_NoProducer(t *testing.T) {
	srv, url := startTestServer(t, nil)

	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)
	require.NoError(t, consumer.WriteJSON(protocol.Get("probabilities", nil, "r1")))

	reply := readMessage(t, consumer, time.Second)
	assert.Equal(t, protocol.TypeResponse, reply.Type)
	assert.Equal(t, "r1", reply.RequestID)
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ErrProducerOffline, reply.Error)

	// No pending-table entry is created for an offline producer.
	assert.Equal(t, 0, srv.Core().PendingCount())
}

func TestGet_RoundTrip(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	params := map[string]any{"limit": 5}
	require.NoError(t, consumer.WriteJSON(protocol.Get("probabilities", params, "r1")))

	// The forwarded request carries the correlation id, resource, and
	// params verbatim.
	forwarded := readMessage(t, producer, time.Second)
	assert.Equal(t, protocol.TypeRequest, forwarded.Type)
	assert.Equal(t, "r1", forwarded.RequestID)
	assert.Equal(t, "probabilities", forwarded.Resource)
	assert.Equal(t, float64(5), forwarded.Params["limit"])

	// The response payload is forwarded verbatim, extra fields included.
	payload := `{"type":"response","request_id":"r1","status":"ok","data":[{"ts":1,"trend":"up"}],"meta":"kept"}`
	require.NoError(t, producer.WriteMessage(websocket.TextMessage, []byte(payload)))

	raw := readRaw(t, consumer, time.Second)
	assert.JSONEq(t, payload, string(raw))
}

func TestGet_ServerAssignsRequestID(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "")))

	forwarded := readMessage(t, producer, time.Second)
	assert.Equal(t, protocol.TypeRequest, forwarded.Type)
	assert.NotEmpty(t, forwarded.RequestID)
}

func TestGet_ErrorPassthrough(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, consumer.WriteJSON(protocol.Get("bogus", nil, "r1")))

	forwarded := readMessage(t, producer, time.Second)
	require.Equal(t, "bogus", forwarded.Resource)

	// The resolver's typed failure passes through unchanged.
	require.NoError(t, producer.WriteJSON(protocol.ErrorResponse("r1", protocol.ErrUnknownResource)))

	reply := readMessage(t, consumer, time.Second)
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ErrUnknownResource, reply.Error)
}

func TestGet_NonGetMessagesIgnored(t *testing.T) {
	srv, url := startTestServer(t, nil)

	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)
	require.NoError(t, consumer.WriteJSON(map[string]any{"type": "ping?"}))
	require.NoError(t, consumer.WriteMessage(websocket.TextMessage, []byte("garbage")))

	expectNoMessage(t, consumer, 150*time.Millisecond)
	assert.Equal(t, 0, srv.Core().PendingCount())
}

// =============================================================================
// TIMEOUT SUPERVISION
// =============================================================================

func TestTimeout_SynthesizedOnce(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	defer producer.Close()
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r1")))

	// Producer stays silent; the supervisor fails the request at the
	// deadline.
	reply := readMessage(t, consumer, time.Second)
	assert.Equal(t, "r1", reply.RequestID)
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ErrTimeout, reply.Error)
	assert.Equal(t, 0, srv.Core().PendingCount())

	// Exactly one timeout error, never a second message.
	expectNoMessage(t, consumer, 400*time.Millisecond)
}

func TestTimeout_LateResponseDiscarded(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r1")))
	reply := readMessage(t, consumer, time.Second)
	require.Equal(t, protocol.ErrTimeout, reply.Error)

	// The answer arrives after the timeout already resolved the request.
	require.NoError(t, producer.WriteJSON(protocol.OKResponse("r1", json.RawMessage(`[]`))))
	expectNoMessage(t, consumer, 200*time.Millisecond)
}

func TestResponse_UnknownIDDiscarded(t *testing.T) {
	_, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, producer.WriteJSON(protocol.OKResponse("never-issued", json.RawMessage(`[]`))))
	expectNoMessage(t, consumer, 200*time.Millisecond)
}

// =============================================================================
// PRODUCER REPLACEMENT
// =============================================================================

func TestProducer_Replacement(t *testing.T) {
	srv, url := startTestServer(t, func(cfg *config.RelayConfig) {
		cfg.RequestTimeout = config.Duration(600 * time.Millisecond)
	})

	stale := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	// Request forwarded to the first producer.
	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r1")))
	forwarded := readMessage(t, stale, time.Second)
	require.Equal(t, "r1", forwarded.RequestID)

	// A second producer takes over atomically.
	replacement := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	require.Eventually(t, func() bool {
		core := srv.Core()
		core.mu.Lock()
		defer core.mu.Unlock()
		return core.generation == 2
	}, time.Second, 5*time.Millisecond, "replacement producer not registered")

	// Requests issued now go only to the new producer.
	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r2")))
	forwarded = readMessage(t, replacement, time.Second)
	assert.Equal(t, "r2", forwarded.RequestID)

	// The stale producer's late answer is treated as unknown and dropped.
	require.NoError(t, stale.WriteJSON(protocol.OKResponse("r1", json.RawMessage(`[{"ts":1}]`))))

	// The new producer resolves its own request normally.
	require.NoError(t, replacement.WriteJSON(protocol.OKResponse("r2", json.RawMessage(`[]`))))

	reply := readMessage(t, consumer, time.Second)
	assert.Equal(t, "r2", reply.RequestID)
	assert.Equal(t, protocol.StatusOK, reply.Status)

	// r1 was never resolved by the stale answer; it fails by timeout.
	reply = readMessage(t, consumer, time.Second)
	assert.Equal(t, "r1", reply.RequestID)
	assert.Equal(t, protocol.ErrTimeout, reply.Error)
}

func TestProducer_DisconnectClearsReference(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	require.Eventually(t, func() bool { return srv.Core().HasProducer() },
		time.Second, 10*time.Millisecond)

	producer.Close()
	require.Eventually(t, func() bool { return !srv.Core().HasProducer() },
		time.Second, 10*time.Millisecond)

	// Requests now fail fast.
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)
	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r1")))
	reply := readMessage(t, consumer, time.Second)
	assert.Equal(t, protocol.ErrProducerOffline, reply.Error)
}

// =============================================================================
// DISCONNECT CLEANUP
// =============================================================================

func TestConsumer_DisconnectAbandonsRequests(t *testing.T) {
	srv, url := startTestServer(t, func(cfg *config.RelayConfig) {
		cfg.RequestTimeout = config.Duration(2 * time.Second)
	})

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	consumer := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, consumer.WriteJSON(protocol.Get("trades", nil, "r1")))
	forwarded := readMessage(t, producer, time.Second)
	require.Equal(t, "r1", forwarded.RequestID)
	require.Equal(t, 1, srv.Core().PendingCount())

	consumer.Close()
	require.Eventually(t, func() bool { return srv.Core().PendingCount() == 0 },
		time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Core().ConsumerCount() == 0 },
		time.Second, 10*time.Millisecond)

	// The producer may still answer; the answer is discarded silently.
	require.NoError(t, producer.WriteJSON(protocol.OKResponse("r1", json.RawMessage(`[]`))))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, srv.Core().PendingCount())
}

func TestConsumer_IsolatedDelivery(t *testing.T) {
	srv, url := startTestServer(t, nil)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	waitForProducer(t, srv)
	first := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)
	second := connectAs(t, url, protocol.RoleConsumer, testConsumerToken)

	require.NoError(t, first.WriteJSON(protocol.Get("trades", nil, "r-first")))
	require.NoError(t, second.WriteJSON(protocol.Get("trades", nil, "r-second")))

	// Answer both, in reverse order; each response reaches only the
	// consumer that issued the matching request.
	for i := 0; i < 2; i++ {
		forwarded := readMessage(t, producer, time.Second)
		require.NoError(t, producer.WriteJSON(
			protocol.OKResponse(forwarded.RequestID, json.RawMessage(`[]`))))
	}

	reply := readMessage(t, first, time.Second)
	assert.Equal(t, "r-first", reply.RequestID)
	reply = readMessage(t, second, time.Second)
	assert.Equal(t, "r-second", reply.RequestID)

	expectNoMessage(t, first, 150*time.Millisecond)
	expectNoMessage(t, second, 150*time.Millisecond)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestServer_Health(t *testing.T) {
	srv, url := startTestServer(t, nil)

	status := srv.Health()
	assert.True(t, status.IsDegraded(), "no producer yet: %+v", status)

	producer := connectAs(t, url, protocol.RoleProducer, testProducerToken)
	defer producer.Close()
	require.Eventually(t, func() bool { return srv.Health().IsHealthy() },
		time.Second, 10*time.Millisecond)
}
