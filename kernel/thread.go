package kernel

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/kernelkit/internal/goid"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kernelkit/internal/shared/id"
)

// Thread priorities. Values up to NormalPriority are background levels,
// values from RealTimeDisplayPriority up are scheduled round-robin.
const (
	MinPriority             int32 = 0
	LowestActivePriority    int32 = 1
	LowPriority             int32 = 5
	NormalPriority          int32 = 10
	DisplayPriority         int32 = 15
	UrgentDisplayPriority   int32 = 20
	RealTimeDisplayPriority int32 = 100
	UrgentPriority          int32 = 110
	RealTimePriority        int32 = 120
	MaxPriority                   = RealTimePriority
)

// ThreadState is the run state of a thread.
type ThreadState int32

const (
	StateReady ThreadState = iota
	StateRunning
	StateSuspended
	StateExited
)

func (s ThreadState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("ThreadState(%d)", int32(s))
	}
}

func (s ThreadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Body is the code a thread runs. Its return value is the exit status.
type Body func(self *Self, arg any) int32

// threadCore is shared by every handle of one thread.
type threadCore struct {
	id      int64 // Goroutine id, also the registry key
	name    string
	team    int64
	body    Body
	arg     any
	adopted bool

	q         *localQueue // Guards the fields below
	tid       int         // OS thread the body is bound to
	state     ThreadState
	priority  int32
	status    int32
	exiting   bool
	discarded bool
	released  bool // The thread dropped its own last handle
	callbacks []func()
	refcount  int64
}

// Thread is a handle to a thread of execution: a goroutine bound to its own
// OS thread so that its priority can be set.
type Thread struct {
	c       *threadCore
	deleted atomic.Bool
}

// Self is the capability a thread has over itself. Only the thread's own
// goroutine may use it.
type Self struct {
	c *threadCore
}

// ThreadInfo describes a thread at one instant.
type ThreadInfo struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Team       int64       `json:"team"`
	State      ThreadState `json:"state"`
	Priority   int32       `json:"priority"`
	ExitStatus int32       `json:"exit_status"`
}

func validatePriority(p int32) error {
	if p < MinPriority || p > MaxPriority {
		return fmt.Errorf("%w: priority %d must be %d..%d", ErrBadValue, p, MinPriority, MaxPriority)
	}
	return nil
}

func threadName(name string) (string, error) {
	if name == "" {
		return id.NewThreadName().String(), nil
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: thread name longer than %d bytes", ErrBadValue, MaxNameLength)
	}
	return name, nil
}

// SpawnThread creates a thread that will run body(self, arg). The thread
// starts in StateReady and begins running on Resume or Wait. An empty name
// gets a generated one.
func SpawnThread(body Body, name string, priority int32, arg any) (*Thread, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: nil thread body", ErrBadValue)
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}
	name, err := threadName(name)
	if err != nil {
		return nil, err
	}

	c := &threadCore{
		name:     name,
		team:     CurrentTeamID(),
		body:     body,
		arg:      arg,
		q:        newLocalQueue(),
		state:    StateReady,
		priority: priority,
		refcount: 1,
	}

	started := make(chan struct{})
	go c.main(started)
	<-started

	m := env().metrics
	m.RecordCreated("thread", ModeLocal.String())
	m.RecordThreadState(StateReady.String())
	return &Thread{c: c}, nil
}

// main is the goroutine behind a spawned thread.
func (c *threadCore) main(started chan<- struct{}) {
	// Never unlocked: the OS thread exits with the goroutine, so a changed
	// priority cannot leak to other goroutines.
	runtime.LockOSThread()

	c.id = goid.Current()
	c.tid = osThreadID()
	_ = threadTable().RegisterAs(c.id, c) // Goroutine ids are never reused
	close(started)

	c.q.lock()
	for c.state == StateReady {
		c.q.wait(-1)
	}
	if c.discarded {
		c.q.unlock()
		return
	}
	c.applyPriorityLocked()
	c.q.unlock()

	defer c.finish()
	status := c.body(&Self{c: c}, c.arg)

	c.q.lock()
	c.status = status
	c.q.unlock()
}

// finish runs the exit callbacks, newest first, and marks the thread exited.
func (c *threadCore) finish() {
	c.q.lock()
	c.exiting = true
	callbacks := c.callbacks
	c.callbacks = nil
	c.q.unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}

	c.q.lock()
	c.state = StateExited
	orphaned := c.released
	c.q.broadcast()
	c.q.unlock()

	m := env().metrics
	m.RecordThreadState(StateExited.String())
	if orphaned {
		threadTable().Unregister(c.id)
		m.RecordDestroyed("thread", ModeLocal.String())
	}
}

func (c *threadCore) onExit(cb func()) error {
	if cb == nil {
		return fmt.Errorf("%w: nil exit callback", ErrBadValue)
	}

	c.q.lock()
	defer c.q.unlock()

	if c.exiting || c.state == StateExited {
		return fmt.Errorf("%w: thread is exiting", ErrNotAllowed)
	}
	c.callbacks = append(c.callbacks, cb)
	return nil
}

// applyPriorityLocked pushes the abstract priority to the OS thread. The
// abstract value is kept even if the OS refuses it.
func (c *threadCore) applyPriorityLocked() {
	if err := setOSPriority(c.tid, c.priority); err != nil {
		env().log.Debug("os refused thread priority",
			zap.Int64("thread", c.id),
			zap.Int32("priority", c.priority),
			zap.Error(err),
		)
	}
}

// AdoptCurrent makes the calling goroutine a thread, for code that did not
// start on SpawnThread. The goroutine is locked to its OS thread.
func AdoptCurrent(name string) (*Thread, *Self, error) {
	name, err := threadName(name)
	if err != nil {
		return nil, nil, err
	}

	me := goid.Current()
	if _, ok := threadTable().Lookup(me); ok {
		return nil, nil, fmt.Errorf("%w: goroutine is already a thread", ErrBusy)
	}

	runtime.LockOSThread()
	c := &threadCore{
		id:       me,
		name:     name,
		team:     CurrentTeamID(),
		adopted:  true,
		q:        newLocalQueue(),
		tid:      osThreadID(),
		state:    StateRunning,
		priority: NormalPriority,
		refcount: 1,
	}
	if err := threadTable().RegisterAs(me, c); err != nil {
		runtime.UnlockOSThread()
		return nil, nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}

	m := env().metrics
	m.RecordCreated("thread", ModeLocal.String())
	m.RecordThreadState(StateRunning.String())
	return &Thread{c: c}, &Self{c: c}, nil
}

// OpenThread returns a new handle to the thread with the given id.
func OpenThread(threadID int64) (*Thread, error) {
	c, ok := threadTable().Lookup(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: thread %d", ErrNotFound, threadID)
	}
	return c.open()
}

// FindThread returns a new handle to a thread with the given name.
func FindThread(name string) (*Thread, error) {
	c, ok := threadTable().Find(func(c *threadCore) bool { return c.name == name })
	if !ok {
		return nil, fmt.Errorf("%w: thread %q", ErrNotFound, name)
	}
	return c.open()
}

func (c *threadCore) open() (*Thread, error) {
	c.q.lock()
	defer c.q.unlock()

	if c.refcount <= 0 {
		return nil, fmt.Errorf("%w: thread %d", ErrNotFound, c.id)
	}
	c.refcount++
	return &Thread{c: c}, nil
}

// CurrentThreadID returns the identity of the calling thread. It is the id
// lockers and semaphores record as holder.
func CurrentThreadID() int64 {
	return goid.Current()
}

// OnExit registers cb to run when the calling thread exits.
func OnExit(cb func()) error {
	c, ok := threadTable().Lookup(goid.Current())
	if !ok {
		return fmt.Errorf("%w: caller is not a kernel thread", ErrNotFound)
	}
	return c.onExit(cb)
}

// ID returns the thread's id.
func (t *Thread) ID() int64 { return t.c.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.c.name }

// Clone returns a new handle to the same thread.
func (t *Thread) Clone() (*Thread, error) {
	if t.deleted.Load() {
		return nil, ErrDeleted
	}
	return t.c.open()
}

// Info returns a snapshot of the thread.
func (t *Thread) Info() (ThreadInfo, error) {
	if t.deleted.Load() {
		return ThreadInfo{}, ErrDeleted
	}

	return t.c.info(), nil
}

func (c *threadCore) info() ThreadInfo {
	c.q.lock()
	defer c.q.unlock()

	return ThreadInfo{
		ID:         c.id,
		Name:       c.name,
		Team:       c.team,
		State:      c.state,
		Priority:   c.priority,
		ExitStatus: c.status,
	}
}

// GetThreadInfo describes the thread with the given id without taking a
// handle to it.
func GetThreadInfo(threadID int64) (ThreadInfo, error) {
	c, ok := threadTable().Lookup(threadID)
	if !ok {
		return ThreadInfo{}, fmt.Errorf("%w: thread %d", ErrNotFound, threadID)
	}
	return c.info(), nil
}

// ListThreads describes every registered thread, ordered by id.
func ListThreads() []ThreadInfo {
	cores := threadTable().Snapshot()
	out := make([]ThreadInfo, 0, len(cores))
	for _, c := range cores {
		out = append(out, c.info())
	}
	return out
}

// State returns the thread's run state.
func (t *Thread) State() ThreadState {
	c := t.c
	c.q.lock()
	defer c.q.unlock()
	return c.state
}

// SetPriority changes the thread's priority and returns the previous one.
func (t *Thread) SetPriority(priority int32) (int32, error) {
	if t.deleted.Load() {
		return 0, ErrDeleted
	}
	if err := validatePriority(priority); err != nil {
		return 0, err
	}

	c := t.c
	c.q.lock()
	defer c.q.unlock()

	prev := c.priority
	c.priority = priority
	if c.state == StateRunning || c.state == StateSuspended {
		c.applyPriorityLocked()
	}
	return prev, nil
}

// Resume starts a ready thread or wakes a suspended one.
func (t *Thread) Resume() error {
	if t.deleted.Load() {
		return ErrDeleted
	}

	c := t.c
	c.q.lock()
	defer c.q.unlock()

	switch c.state {
	case StateReady, StateSuspended:
		c.state = StateRunning
		c.q.broadcast()
		env().metrics.RecordThreadState(StateRunning.String())
		return nil
	default:
		return fmt.Errorf("%w: thread %d is %s", ErrNotAllowed, c.id, c.state)
	}
}

// Wait starts the thread if it is still ready, then waits for it to exit
// and returns its exit status. A thread cannot wait for itself.
func (t *Thread) Wait(timeout Timeout) (int32, error) {
	if t.deleted.Load() {
		return 0, ErrDeleted
	}

	c := t.c
	if me := goid.Current(); me == c.id {
		env().diag.Warn("thread waited for itself", zap.Int64("thread", me))
		return 0, fmt.Errorf("%w: thread cannot wait for itself", ErrNotAllowed)
	}

	timer := monitoring.NewTimer(env().metrics, "thread", "wait")
	status, err := c.wait(timeout.start())
	timer.Stop(resultOf(err))
	return status, err
}

func (c *threadCore) wait(dl deadline) (int32, error) {
	c.q.lock()
	defer c.q.unlock()

	if c.state == StateReady {
		c.state = StateRunning
		c.q.broadcast()
		env().metrics.RecordThreadState(StateRunning.String())
	}

	for c.state != StateExited {
		if dl.try {
			return 0, ErrWouldBlock
		}
		timedOut := dl.sleep(c.q)
		if c.state == StateExited {
			break
		}
		if timedOut || dl.expired() {
			return 0, ErrTimedOut
		}
	}
	return c.status, nil
}

// Delete releases this handle. Deleting the last handle of a thread that
// never started discards it; otherwise it waits for the thread to exit.
func (t *Thread) Delete() error {
	if !t.deleted.CompareAndSwap(false, true) {
		return ErrDeleted
	}

	c := t.c
	c.q.lock()
	c.refcount--
	if c.refcount > 0 {
		c.q.unlock()
		return nil
	}

	if c.state == StateReady {
		c.discarded = true
		c.state = StateExited
		c.q.broadcast()
	}
	if goid.Current() == c.id {
		// The thread dropped its own last handle; finish unregisters it.
		c.released = true
		c.q.unlock()
		return nil
	}
	for c.state != StateExited {
		c.q.wait(-1)
	}
	c.q.unlock()

	threadTable().Unregister(c.id)
	env().metrics.RecordDestroyed("thread", ModeLocal.String())
	return nil
}

// ID returns the calling thread's id.
func (s *Self) ID() int64 { return s.c.id }

// Name returns the calling thread's name.
func (s *Self) Name() string { return s.c.name }

func (s *Self) owned(op string) bool {
	if me := goid.Current(); me != s.c.id {
		env().diag.Warn("thread capability used from another thread",
			zap.String("op", op),
			zap.Int64("thread", s.c.id),
			zap.Int64("caller", me),
		)
		return false
	}
	return true
}

// Suspend parks the calling thread until another thread resumes it or the
// timeout passes.
func (s *Self) Suspend(timeout Timeout) error {
	if !s.owned("suspend") {
		return fmt.Errorf("%w: suspend from another thread", ErrNotAllowed)
	}

	c := s.c
	dl := timeout.start()
	if dl.try {
		return ErrWouldBlock
	}

	c.q.lock()
	defer c.q.unlock()

	c.state = StateSuspended
	env().metrics.RecordThreadState(StateSuspended.String())
	for c.state == StateSuspended {
		timedOut := dl.sleep(c.q)
		if c.state != StateSuspended {
			break
		}
		if timedOut || dl.expired() {
			c.state = StateRunning
			return ErrTimedOut
		}
	}
	return nil
}

// OnExit registers cb to run when the thread exits. Callbacks run newest
// first, exactly once.
func (s *Self) OnExit(cb func()) error {
	return s.c.onExit(cb)
}

// Exit ends the thread with status after running its exit callbacks. It
// does not return.
func (s *Self) Exit(status int32) {
	if !s.owned("exit") {
		return
	}

	c := s.c
	c.q.lock()
	c.status = status
	c.q.unlock()

	// Spawned threads finish from main's deferred call.
	if c.adopted {
		c.finish()
	}
	runtime.Goexit()
}
