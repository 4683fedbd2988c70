// Package main implements bridgectl, a test consumer that fetches data
// through the relay: authenticate as a consumer, issue one get request, wait
// for the matching response, and print it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jousa-sbrt/remote-bridge/protocol"
)

const appName = "bridgectl"

type options struct {
	url      string
	token    string
	resource string
	limit    int
	timeout  time.Duration
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := fetchOnce(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func parseFlags() *options {
	opts := &options{}

	flag.StringVar(&opts.url, "url",
		getEnv("RELAY_URL", "ws://localhost:8080/ws"),
		"ws(s):// relay url (env: RELAY_URL)")
	flag.StringVar(&opts.token, "token",
		getEnv("CONSUMER_TOKEN", ""),
		"consumer auth token (env: CONSUMER_TOKEN)")
	flag.StringVar(&opts.resource, "resource", "probabilities",
		"resource to fetch (probabilities, trades)")
	flag.IntVar(&opts.limit, "limit", 5, "maximum number of records")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall operation timeout")
	flag.Parse()

	return opts
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// fetchOnce performs one auth + get + response cycle and prints the result.
func fetchOnce(ctx context.Context, opts *options) error {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := sendJSON(conn, protocol.Auth(protocol.RoleConsumer, opts.token)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	reply, err := readMessage(conn)
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != protocol.TypeAuthOK {
		return fmt.Errorf("auth failed: got %q reply", reply.Type)
	}

	requestID := uuid.NewString()
	get := protocol.Get(opts.resource, map[string]any{"limit": opts.limit}, requestID)
	if err := sendJSON(conn, get); err != nil {
		return fmt.Errorf("send get: %w", err)
	}

	for {
		msg, err := readMessage(conn)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if msg.Type != protocol.TypeResponse || msg.RequestID != requestID {
			continue
		}

		pretty, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return fmt.Errorf("format response: %w", err)
		}
		fmt.Println(string(pretty))

		if msg.Status == protocol.StatusError {
			return fmt.Errorf("request failed: %s", msg.Error)
		}
		return nil
	}
}

func sendJSON(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readMessage(conn *websocket.Conn) (*protocol.Message, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Parse(raw)
}
