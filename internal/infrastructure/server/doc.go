// Package server assembles the kitstat HTTP server: a Gin router with
// recovery, tracing, request metrics and rate limiting in front of the
// inspection handlers and Prometheus exposition.
package server
