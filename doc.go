// Package remotebridge relays request/response traffic between consumers
// and a single data producer that sits behind a network boundary and can
// only dial out.
//
// # Architecture
//
// Three processes cooperate. The relay is the only publicly reachable
// piece; the bridge agent dials out to it and answers data requests from
// a local read-only SQLite database; bridgectl is a one-shot consumer
// client for scripting and diagnosis.
//
//	┌──────────────────┐          ┌──────────────────┐
//	│   bridge agent   │          │      relayd      │
//	│ (behind NAT/FW)  │── ws ───►│  (public host)   │
//	│                  │          │                  │
//	│  SQLite (ro)     │          │  pending table   │
//	└──────────────────┘          └────────┬─────────┘
//	                                       │ ws
//	                          ┌────────────┼────────────┐
//	                          ▼            ▼            ▼
//	                      consumer     consumer     bridgectl
//
// Consumers send "get" requests; the relay assigns or adopts a
// correlation id, forwards the request to the producer, and routes the
// response back to exactly the consumer that asked. Requests the
// producer never answers fail with a synthesized timeout error. At most
// one producer is active at a time; a new producer connection replaces
// the old one atomically.
//
// # Packages
//
// Core:
//   - protocol: wire message types, close codes, and error tags
//   - relay: websocket server, session handling, request correlation
//   - bridge: producer-side agent with reconnect and keepalive
//   - resolver: resource resolution against read-only SQLite
//
// Infrastructure:
//   - config: JSON file + environment configuration
//   - errors: structured error classification
//   - health: component health monitoring and HTTP endpoint
//   - metric: Prometheus metrics registry and exposure
//   - pkg/retry: exponential backoff for connection maintenance
//
// Binaries live under cmd/: relayd, bridge-agent, and bridgectl.
package remotebridge
