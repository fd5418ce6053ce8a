// Command kitstat serves live statistics for the kernelkit primitives
// used in this process and, optionally, drives a soak workload over them.
//
// Endpoints:
//   - /, /health: identity and liveness
//   - /metrics: Prometheus exposition
//   - /debug/resources, /debug/threads: registry and workload state
//
// Configuration:
//   - Environment variables (KIT_*, LOG_*, METRICS_*)
//   - CLI flags override the environment
//
// Usage:
//
//	./kitstat -addr :9464 -soak-workers 4
//
//	# Named ports between rounds, development logs
//	./kitstat -soak-ipc -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
