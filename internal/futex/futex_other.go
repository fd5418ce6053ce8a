//go:build !linux

package futex

import (
	"sync/atomic"
	"time"
)

// pollInterval bounds how long a sleeper can miss a wake-up on platforms
// without a shared-memory futex.
const pollInterval = time.Millisecond

func wait(word *uint32, val uint32, timeout time.Duration) bool {
	step := pollInterval
	if timeout >= 0 && timeout < step {
		step = timeout
	}
	if atomic.LoadUint32(word) != val {
		return false
	}
	time.Sleep(step)
	return timeout >= 0 && step == timeout
}

func wake(word *uint32, n int) {}
