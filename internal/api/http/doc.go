// Package http provides the kitstat inspection endpoints.
//
// Endpoints:
//   - Identity: /
//   - Liveness: /health
//   - Registry counts, metric snapshot and soak counters: /debug/resources
//   - Threads: /debug/threads and /debug/threads/:id
//
// Prometheus exposition is mounted by the server package, not here.
package http
