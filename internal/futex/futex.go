// Package futex provides a mutex and a condition word that live in shared
// memory and therefore work between processes mapping the same segment.
//
// The lock word follows the classic three-state design (0 unlocked, 1 locked,
// 2 locked with waiters). The condition word is a sequence counter: waiters
// sleep while it is unchanged and broadcasters bump it before waking.
//
// A process that dies while holding the lock leaves it held; callers that share
// state with untrusted peers must account for that.
package futex

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	unlocked  uint32 = 0
	locked    uint32 = 1
	contended uint32 = 2
)

// Lock acquires the lock word, sleeping while another holder owns it.
func Lock(word *uint32) {
	if atomic.CompareAndSwapUint32(word, unlocked, locked) {
		return
	}
	for atomic.SwapUint32(word, contended) != unlocked {
		wait(word, contended, -1)
	}
}

// TryLock acquires the lock word only if it is free.
func TryLock(word *uint32) bool {
	return atomic.CompareAndSwapUint32(word, unlocked, locked)
}

// Unlock releases the lock word and wakes one sleeper if there were waiters.
func Unlock(word *uint32) {
	if atomic.AddUint32(word, ^uint32(0)) != unlocked {
		atomic.StoreUint32(word, unlocked)
		wake(word, 1)
	}
}

// Cond pairs a lock word with a sequence word. Both must point into the same
// shared segment.
type Cond struct {
	Lock *uint32
	Seq  *uint32
}

// Wait atomically releases the lock, sleeps until a broadcast or until the
// timeout elapses, and reacquires the lock. A negative timeout waits forever.
// Wait reports whether the sleep ended because the timeout elapsed; callers
// must recheck their predicate either way.
func (c Cond) Wait(timeout time.Duration) (timedOut bool) {
	seq := atomic.LoadUint32(c.Seq)
	Unlock(c.Lock)
	timedOut = wait(c.Seq, seq, timeout)
	Lock(c.Lock)
	return timedOut
}

// Broadcast wakes every sleeper on the condition word.
func (c Cond) Broadcast() {
	atomic.AddUint32(c.Seq, 1)
	wake(c.Seq, math.MaxInt32)
}
