// Package api implements the HTTP API for the Guestlink service.
//
// This package provides:
//   - Read endpoints for the guest registry and report history
//   - Live registry snapshots over Server-Sent Events and WebSocket
//   - Score pushes to guests over the radio link
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit, JWT)
//   - Prometheus exposition on /metrics
//
// # Event streams
//
// SSE and WebSocket subscribers share the fan-out multiplexer's slots. When
// every slot is taken a new subscriber gets 503. Snapshots are the full
// registry as a JSON array; keepalives are an SSE comment or a WebSocket
// ping.
//
// # Security
//
// POST routes pass through a shared token bucket and, when
// security.jwt.secret is set, require an HS256 bearer token with an exp
// claim. Read routes are open.
package api
