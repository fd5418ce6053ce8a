package kernel

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/kernelkit/internal/goid"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
)

// lockerState is shared by every handle of one locker.
type lockerState struct {
	q        *localQueue
	holder   int64 // Goroutine id of the holder; 0 when unheld
	count    int64 // Nesting depth of the holder
	closed   bool
	refcount int64
}

// Locker is a recursive mutual-exclusion lock owned by a thread. The holder
// may lock it again; it is released when every Lock has been matched by an
// Unlock.
type Locker struct {
	id int64
	st *lockerState

	ops     sync.RWMutex // Held shared by calls, exclusively by Delete
	deleted atomic.Bool
}

// NewLocker creates an unheld locker.
func NewLocker() *Locker {
	st := &lockerState{q: newLocalQueue(), refcount: 1}
	env().metrics.RecordCreated("locker", ModeLocal.String())
	return newLockerHandle(st)
}

func newLockerHandle(st *lockerState) *Locker {
	l := &Locker{st: st}
	l.id = lockerTable().Register(l)
	return l
}

func (l *Locker) enter() error {
	l.ops.RLock()
	if l.deleted.Load() {
		l.ops.RUnlock()
		return ErrDeleted
	}
	return nil
}

func (l *Locker) leave() {
	l.ops.RUnlock()
}

// ID returns the handle's process-wide id.
func (l *Locker) ID() int64 { return l.id }

// Clone returns a new handle to the same locker.
func (l *Locker) Clone() (*Locker, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.leave()

	st := l.st
	st.q.lock()
	defer st.q.unlock()

	if st.refcount <= 0 {
		return nil, ErrNotFound
	}
	st.refcount++
	return newLockerHandle(st), nil
}

// Lock acquires the locker, or deepens the nesting if the caller already
// holds it.
func (l *Locker) Lock(timeout Timeout) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	timer := monitoring.NewTimer(env().metrics, "locker", "lock")
	err := l.lock(goid.Current(), timeout.start())
	timer.Stop(resultOf(err))
	return err
}

func (l *Locker) lock(me int64, dl deadline) error {
	st := l.st
	st.q.lock()
	defer st.q.unlock()

	if st.closed {
		return ErrClosed
	}
	if st.count > 0 && st.holder == me {
		if st.count == math.MaxInt64 {
			return fmt.Errorf("%w: locker nesting", ErrOverflow)
		}
		st.count++
		return nil
	}

	for st.count > 0 {
		if dl.try {
			return ErrWouldBlock
		}
		if l.deleted.Load() {
			return ErrDeleted
		}
		timedOut := dl.sleep(st.q)

		switch {
		case st.closed:
			return ErrClosed
		case l.deleted.Load():
			return ErrDeleted
		case st.count == 0:
		case timedOut || dl.expired():
			return ErrTimedOut
		}
	}

	st.holder = me
	st.count = 1
	return nil
}

// Unlock undoes one Lock. Only the holder may unlock.
func (l *Locker) Unlock() error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	me := goid.Current()
	st := l.st
	st.q.lock()
	defer st.q.unlock()

	if st.count == 0 || st.holder != me {
		env().diag.Warn("locker unlocked by a thread that does not hold it",
			zap.Int64("locker", l.id),
			zap.Int64("thread", me),
			zap.Int64("holder", st.holder),
		)
		return fmt.Errorf("%w: unlock by non-holder", ErrNotAllowed)
	}

	st.count--
	if st.count == 0 {
		st.holder = 0
		st.q.broadcast()
	}
	return nil
}

// UnlockFully releases every nesting level held by the caller and returns
// the depth, for a later Relock.
func (l *Locker) UnlockFully() (int64, error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.leave()

	me := goid.Current()
	st := l.st
	st.q.lock()
	defer st.q.unlock()

	if st.count == 0 || st.holder != me {
		return 0, fmt.Errorf("%w: unlock by non-holder", ErrNotAllowed)
	}

	depth := st.count
	st.count = 0
	st.holder = 0
	st.q.broadcast()
	return depth, nil
}

// Relock reacquires the locker at the nesting depth returned by UnlockFully.
func (l *Locker) Relock(depth int64, timeout Timeout) error {
	if depth <= 0 {
		return fmt.Errorf("%w: relock depth %d", ErrBadValue, depth)
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	me := goid.Current()
	if err := l.lock(me, timeout.start()); err != nil {
		return err
	}

	st := l.st
	st.q.lock()
	st.count = depth
	st.q.unlock()
	return nil
}

// CountLocks returns the nesting depth if the caller holds the locker, 0 if
// nobody does, and the negated depth if another thread holds it.
func (l *Locker) CountLocks() int64 {
	if l.enter() != nil {
		return 0
	}
	defer l.leave()

	st := l.st
	st.q.lock()
	defer st.q.unlock()

	switch {
	case st.count == 0:
		return 0
	case st.holder == goid.Current():
		return st.count
	default:
		return -st.count
	}
}

// Holder returns the id of the holding thread, or 0 when unheld.
func (l *Locker) Holder() int64 {
	if l.enter() != nil {
		return 0
	}
	defer l.leave()

	st := l.st
	st.q.lock()
	defer st.q.unlock()
	return st.holder
}

// IsLockedByCurrent reports whether the calling thread holds the locker.
func (l *Locker) IsLockedByCurrent() bool {
	return l.CountLocks() > 0
}

// Close marks the locker closed. Blocked and future Lock calls fail with
// ErrClosed; the holder may still Unlock.
func (l *Locker) Close() error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	st := l.st
	st.q.lock()
	defer st.q.unlock()

	if st.closed {
		return ErrClosed
	}
	st.closed = true
	st.q.broadcast()
	return nil
}

// Delete releases this handle; the locker is destroyed with its last one.
func (l *Locker) Delete() error {
	if !l.deleted.CompareAndSwap(false, true) {
		return ErrDeleted
	}

	st := l.st
	st.q.lock()
	st.q.broadcast()
	st.q.unlock()
	l.ops.Lock()
	defer l.ops.Unlock()

	lockerTable().Unregister(l.id)

	st.q.lock()
	st.refcount--
	last := st.refcount <= 0
	if last && !st.closed {
		st.closed = true
		st.q.broadcast()
	}
	st.q.unlock()

	if last {
		env().metrics.RecordDestroyed("locker", ModeLocal.String())
	}
	return nil
}
