// Package httpserver provides the HTTP/HTTPS server for the KiteSync
// replication API.
//
// It uses the Go standard library net/http for routing, with a
// middleware chain for request IDs, panic recovery, access logging,
// per-IP rate limiting, the admin authorization gate, and an optional
// network allowlist for control operations:
//
//   - Read surface: /health, /ready, /replication/status
//   - Metrics: /replication/metrics/prometheus, /replication/metrics/otel-json
//   - Transport: /replication/transport/snapshot, /replication/transport/log
//   - Control: /replication/promote, /replication/progress,
//     /replication/retention/run, /replication/checkpoint
//   - Replica: /replication/bootstrap, /replication/pull,
//     /replication/reseed, /replication/wait
//
// Health and status are open; everything else passes the admin gate.
package httpserver
