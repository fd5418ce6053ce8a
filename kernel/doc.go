// Package kernel provides the process and inter-process primitives of a
// small operating-system style kernel: shared memory areas, counting
// semaphores, recursive lockers, bounded message ports and threads.
//
// Named semaphores, ports and areas live in shared memory and can be opened
// by any process using the same shm directory; unnamed ones are private to
// the process and shared between clones. Every blocking call takes a
// Timeout, and every primitive can be closed, which fails current and
// future waiters with ErrClosed.
//
// Handles are reference counted: Clone and the Open functions add a
// reference, Delete drops it, and the shared state is destroyed with the
// last one.
//
// Settings come from the environment (see internal/infrastructure/config)
// on first use and can be replaced with Configure. Diagnostics go to a zap
// logger set with SetLogger; lifecycle and wait metrics are recorded when a
// collector is installed with SetMetrics.
package kernel
