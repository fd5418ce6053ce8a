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

// Flags modify Release.
type Flags uint32

const (
	// DoNotReschedule releases units without waking blocked acquirers.
	DoNotReschedule Flags = 1 << iota
)

// Mode tells whether a primitive lives in this process or in shared memory.
type Mode uint8

const (
	ModeLocal Mode = iota
	ModeIPC
)

func (m Mode) String() string {
	if m == ModeIPC {
		return "ipc"
	}
	return "local"
}

// semState is the semaphore record. Local semaphores keep it on the heap;
// IPC semaphores overlay it on the start of their area, so the layout is
// fixed and every field is naturally aligned.
type semState struct {
	lock           uint32 // Futex word for IPC mode
	seq            uint32 // Futex condition sequence for IPC mode
	magic          uint32
	closed         uint32
	count          int64
	acquiringCount int64
	minAcquire     int64 // Smallest pending acquire; 0 when nobody waits
	refcount       int64
	holderThread   int64
	holderTeam     int64
}

// Semaphore is a counting semaphore. Local semaphores are shared between
// clones in this process; named ones between every process that opens the
// name.
type Semaphore struct {
	id   int64
	name string
	mode Mode
	st   *semState
	q    waitQueue
	area *Area // IPC only

	ops         sync.RWMutex // Held shared by calls, exclusively by Delete
	deleted     atomic.Bool
	interrupted atomic.Bool // Waiters leave with ErrDeleted; releases still work
}

// SemaphoreInfo describes a semaphore at one instant.
type SemaphoreInfo struct {
	ID                 int64
	Name               string
	Mode               Mode
	Count              int64
	Waiting            int64
	RefCount           int64
	LatestHolderThread int64
	LatestHolderTeam   int64
	Closed             bool
}

// CreateSemaphore creates a semaphore holding count units. An empty name
// creates a local semaphore; any other name creates a semaphore shared
// across processes.
func CreateSemaphore(count int64, name string, access Access) (*Semaphore, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: initial count %d", ErrBadValue, count)
	}
	if name == "" {
		return newLocalSemaphore(count), nil
	}

	e := env()
	e.lockIPC()
	defer e.unlockIPC()

	return createIPCSemaphoreLocked(e, count, name, DomainSemaphore, access)
}

// CloneSemaphore opens an existing named semaphore.
func CloneSemaphore(name string) (*Semaphore, error) {
	e := env()
	e.lockIPC()
	defer e.unlockIPC()

	return cloneIPCSemaphoreLocked(e, name, DomainSemaphore)
}

func newLocalSemaphore(count int64) *Semaphore {
	st := &semState{count: count, refcount: 1}
	s := newSemaphoreHandle("", ModeLocal, st, newLocalQueue(), nil)
	env().metrics.RecordCreated("semaphore", ModeLocal.String())
	return s
}

func newSemaphoreHandle(name string, mode Mode, st *semState, q waitQueue, area *Area) *Semaphore {
	s := &Semaphore{name: name, mode: mode, st: st, q: q, area: area}
	s.id = semTable().Register(s)
	return s
}

// Clone returns a new handle to the same semaphore.
func (s *Semaphore) Clone() (*Semaphore, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	if s.mode == ModeIPC {
		e := env()
		e.lockIPC()
		defer e.unlockIPC()
		return cloneIPCSemaphoreLocked(e, s.name, s.area.Domain())
	}

	s.q.lock()
	defer s.q.unlock()
	if s.st.refcount <= 0 {
		return nil, ErrNotFound
	}
	s.st.refcount++
	return newSemaphoreHandle("", ModeLocal, s.st, s.q, nil), nil
}

func (s *Semaphore) enter() error {
	s.ops.RLock()
	if s.deleted.Load() {
		s.ops.RUnlock()
		return ErrDeleted
	}
	return nil
}

func (s *Semaphore) leave() {
	s.ops.RUnlock()
}

// ID returns the handle's process-wide id.
func (s *Semaphore) ID() int64 { return s.id }

// Name returns the semaphore's name, empty for local semaphores.
func (s *Semaphore) Name() string { return s.name }

// Mode reports where the semaphore lives.
func (s *Semaphore) Mode() Mode { return s.mode }

// Acquire takes one unit.
func (s *Semaphore) Acquire(timeout Timeout) error {
	return s.AcquireEtc(1, timeout)
}

// AcquireEtc takes count units at once, waiting until that many are
// available, the timeout passes or the semaphore is closed.
func (s *Semaphore) AcquireEtc(count int64, timeout Timeout) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if count <= 0 {
		return fmt.Errorf("%w: acquire count %d", ErrBadValue, count)
	}

	timer := monitoring.NewTimer(env().metrics, "semaphore", "acquire")
	err := s.acquire(count, timeout.start())
	timer.Stop(resultOf(err))
	return err
}

func (s *Semaphore) acquire(count int64, dl deadline) error {
	st := s.st
	s.q.lock()
	defer s.q.unlock()

	if st.closed != 0 {
		return ErrClosed
	}
	if st.count >= count {
		s.take(count)
		return nil
	}
	if dl.try {
		return ErrWouldBlock
	}

	st.acquiringCount++
	if st.minAcquire == 0 || count < st.minAcquire {
		st.minAcquire = count
	}
	defer func() {
		st.acquiringCount--
		if st.acquiringCount == 0 {
			st.minAcquire = 0
		}
	}()

	for {
		// Checked under the queue lock before each sleep, so a Delete that
		// broadcast before this caller queued up is never missed.
		if s.deleted.Load() || s.interrupted.Load() {
			return ErrDeleted
		}
		timedOut := dl.sleep(s.q)

		switch {
		case st.closed != 0:
			return ErrClosed
		case s.deleted.Load(), s.interrupted.Load():
			return ErrDeleted
		case st.count >= count:
			s.take(count)
			return nil
		case timedOut || dl.expired():
			return ErrTimedOut
		}
	}
}

// take consumes units under the inner lock.
func (s *Semaphore) take(count int64) {
	s.st.count -= count
	s.st.holderThread = goid.Current()
	s.st.holderTeam = CurrentTeamID()
}

// Release returns count units and wakes blocked acquirers whose request
// can now be met, unless flags has DoNotReschedule.
func (s *Semaphore) Release(count int64, flags Flags) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if count <= 0 {
		return fmt.Errorf("%w: release count %d", ErrBadValue, count)
	}

	st := s.st
	s.q.lock()
	defer s.q.unlock()

	if st.closed != 0 {
		return ErrClosed
	}
	if st.count > math.MaxInt64-count {
		return fmt.Errorf("%w: semaphore count %d + %d", ErrOverflow, st.count, count)
	}

	st.count += count
	if flags&DoNotReschedule == 0 && st.acquiringCount > 0 && st.count >= st.minAcquire {
		s.q.broadcast()
	}
	return nil
}

// Count returns the units currently available.
func (s *Semaphore) Count() (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	s.q.lock()
	defer s.q.unlock()
	return s.st.count, nil
}

// Info returns a snapshot of the semaphore.
func (s *Semaphore) Info() (SemaphoreInfo, error) {
	if err := s.enter(); err != nil {
		return SemaphoreInfo{}, err
	}
	defer s.leave()

	s.q.lock()
	defer s.q.unlock()

	st := s.st
	return SemaphoreInfo{
		ID:                 s.id,
		Name:               s.name,
		Mode:               s.mode,
		Count:              st.count,
		Waiting:            st.acquiringCount,
		RefCount:           st.refcount,
		LatestHolderThread: st.holderThread,
		LatestHolderTeam:   st.holderTeam,
		Closed:             st.closed != 0,
	}, nil
}

// Close marks the semaphore closed and wakes every waiter with ErrClosed.
// Closing is permanent.
func (s *Semaphore) Close() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	s.q.lock()
	defer s.q.unlock()

	if s.st.closed != 0 {
		return ErrClosed
	}
	s.st.closed = 1
	s.q.broadcast()
	return nil
}

// Delete releases this handle. The semaphore itself is destroyed with its
// last handle; waiters still blocked on it then fail with ErrClosed.
func (s *Semaphore) Delete() error {
	if !s.retire() {
		return ErrDeleted
	}
	defer s.ops.Unlock()

	e := env()
	if s.mode == ModeIPC {
		e.lockIPC()
		defer e.unlockIPC()
	}
	s.drop(e)
	return nil
}

// deleteLocked is Delete for callers already holding the IPC lock.
func (s *Semaphore) deleteLocked(e *environment) {
	if !s.retire() {
		return
	}
	defer s.ops.Unlock()
	s.drop(e)
}

// retire marks the handle deleted, wakes callers blocked through it and
// waits for them to leave. It returns with ops held exclusively.
func (s *Semaphore) retire() bool {
	if !s.deleted.CompareAndSwap(false, true) {
		return false
	}

	s.q.lock()
	s.q.broadcast()
	s.q.unlock()

	s.ops.Lock()
	semTable().Unregister(s.id)
	return true
}

// drop gives up the handle's reference and destroys the semaphore with the
// last one.
func (s *Semaphore) drop(e *environment) {
	s.q.lock()
	s.st.refcount--
	last := s.st.refcount <= 0
	if last && s.st.closed == 0 {
		s.st.closed = 1
		s.q.broadcast()
	}
	s.q.unlock()

	if s.mode == ModeIPC {
		s.area.deleteLocked(last)
	}
	if last {
		e.metrics.RecordDestroyed("semaphore", s.mode.String())
		e.log.Debug("semaphore destroyed", zap.Int64("id", s.id), zap.String("name", s.name))
	}
}

// wait takes one unit without recording metrics. Ports use it to sleep
// until a peer makes progress.
func (s *Semaphore) wait(dl deadline) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	return s.acquire(1, dl)
}

// interrupt wakes callers blocked through this handle with ErrDeleted and
// turns away later waits, while raiseTo keeps working until Delete. A port
// uses it to release its own waiters before writes in flight finish.
func (s *Semaphore) interrupt() {
	s.interrupted.Store(true)
	s.q.lock()
	s.q.broadcast()
	s.q.unlock()
}

// raiseTo tops the count up to n units and wakes waiters. Units left over
// by waiters that gave up are absorbed rather than accumulated.
func (s *Semaphore) raiseTo(n int64) {
	if s.enter() != nil {
		return
	}
	defer s.leave()

	st := s.st
	s.q.lock()
	defer s.q.unlock()

	if st.closed != 0 || st.count >= n {
		return
	}
	st.count = n
	if st.acquiringCount > 0 {
		s.q.broadcast()
	}
}
