// Package soak keeps the kernel primitives busy for the kitstat binary.
//
// Each worker repeatedly runs a round: two ports (named when IPC is
// enabled), a semaphore counting echoed messages and an echo thread. The
// round checks FIFO order end to end and tears everything down again, so a
// long run surfaces leaks in the resource counters served on
// /debug/resources. Failing workers are paced by a circuit breaker.
package soak
