package kernel

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/kernelkit/internal/futex"
)

// waitQueue is the inner lock of a primitive together with a condition the
// lock holder can sleep on. It is never the lock a caller sees.
type waitQueue interface {
	lock()
	unlock()
	// wait releases the lock, sleeps until broadcast or until timeout
	// (negative: forever) and reacquires the lock.
	wait(timeout time.Duration) (timedOut bool)
	broadcast()
}

// localQueue is a process-private wait queue. A broadcast closes the current
// channel, which wakes every sleeper selecting on it.
type localQueue struct {
	mu sync.Mutex
	ch chan struct{} // Protected by mu; replaced on every broadcast
}

func newLocalQueue() *localQueue {
	return &localQueue{ch: make(chan struct{})}
}

func (q *localQueue) lock()   { q.mu.Lock() }
func (q *localQueue) unlock() { q.mu.Unlock() }

func (q *localQueue) wait(timeout time.Duration) bool {
	ch := q.ch
	q.mu.Unlock()
	defer q.mu.Lock()

	if timeout < 0 {
		<-ch
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return false
	case <-timer.C:
		return true
	}
}

func (q *localQueue) broadcast() {
	close(q.ch)
	q.ch = make(chan struct{})
}

// sharedQueue is a wait queue whose words live in a shared-memory header.
type sharedQueue struct {
	cond futex.Cond
}

func newSharedQueue(lockWord, seqWord *uint32) *sharedQueue {
	return &sharedQueue{cond: futex.Cond{Lock: lockWord, Seq: seqWord}}
}

func (q *sharedQueue) lock()   { futex.Lock(q.cond.Lock) }
func (q *sharedQueue) unlock() { futex.Unlock(q.cond.Lock) }

func (q *sharedQueue) wait(timeout time.Duration) bool {
	return q.cond.Wait(timeout)
}

func (q *sharedQueue) broadcast() {
	q.cond.Broadcast()
}
