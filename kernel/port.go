package kernel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
)

// portHeader is the port record. Local ports keep it on the heap; IPC ports
// overlay it on the start of their area, followed by the message slots.
type portHeader struct {
	lock       uint32 // Futex word for IPC mode
	magic      uint32
	closed     uint32
	_          uint32
	capacity   int64
	maxMessage int64
	slotStride int64
	head       int64
	queueCount int64
	readerWait int64
	writerWait int64
	refcount   int64
}

// portMutex guards a port header.
type portMutex interface {
	lock()
	unlock()
}

// portRing stores message slots addressed by index.
type portRing interface {
	put(slot int64, code int32, payload []byte)
	size(slot int64) int
	// get copies up to len(dst) payload bytes and returns the code.
	get(slot int64, dst []byte) int32
}

// heapRing is the slot store of a local port.
type heapRing struct {
	codes    []int32
	payloads [][]byte
}

func newHeapRing(capacity int) *heapRing {
	return &heapRing{
		codes:    make([]int32, capacity),
		payloads: make([][]byte, capacity),
	}
}

func (r *heapRing) put(slot int64, code int32, payload []byte) {
	r.codes[slot] = code
	r.payloads[slot] = append([]byte(nil), payload...)
}

func (r *heapRing) size(slot int64) int {
	return len(r.payloads[slot])
}

func (r *heapRing) get(slot int64, dst []byte) int32 {
	copy(dst, r.payloads[slot])
	r.payloads[slot] = nil
	return r.codes[slot]
}

// lockerMutex guards a local port with its Locker.
type lockerMutex struct {
	l *Locker
}

func (m lockerMutex) lock() {
	// Only fails once the handle is deleted, which waits for every call.
	_ = m.l.Lock(Infinite)
}

func (m lockerMutex) unlock() {
	_ = m.l.Unlock()
}

// Port is a bounded FIFO of messages, each a 32-bit code and a payload.
// Local ports are shared between clones in this process; named ports
// between every process that opens the name.
type Port struct {
	id      int64
	name    string
	mode    Mode
	h       *portHeader
	mu      portMutex
	ring    portRing
	readers *Semaphore // Signalled when a message arrives
	writers *Semaphore // Signalled when a slot frees up
	locker  *Locker    // Local only
	area    *Area      // IPC only

	ops     sync.RWMutex // Held shared by calls, exclusively by Delete
	deleted atomic.Bool
}

// PortInfo describes a port at one instant.
type PortInfo struct {
	ID             int64
	Name           string
	Mode           Mode
	Capacity       int
	QueueCount     int
	MaxMessageSize int
	ReadersWaiting int64
	WritersWaiting int64
	RefCount       int64
	Closed         bool
}

// MaxPortQueueLength is the largest capacity CreatePort accepts.
func MaxPortQueueLength() int {
	return env().cfg.Port.QueueLength
}

// MaxPortBufferSize is the largest payload a new port accepts.
func MaxPortBufferSize() int {
	return env().cfg.Port.MaxBufferSize
}

// CreatePort creates a port holding up to capacity messages. An empty name
// creates a local port; any other name creates a port shared across
// processes.
func CreatePort(capacity int, name string, access Access) (*Port, error) {
	e := env()
	if capacity <= 0 || capacity > e.cfg.Port.QueueLength {
		return nil, fmt.Errorf("%w: port capacity %d must be 1..%d", ErrBadValue, capacity, e.cfg.Port.QueueLength)
	}
	maxMessage := e.cfg.Port.MaxBufferSize

	if name == "" {
		return newLocalPort(e, capacity, maxMessage), nil
	}

	e.lockIPC()
	defer e.unlockIPC()
	return createIPCPortLocked(e, capacity, maxMessage, name, access)
}

// OpenPort opens an existing named port.
func OpenPort(name string) (*Port, error) {
	e := env()
	e.lockIPC()
	defer e.unlockIPC()

	return openIPCPortLocked(e, name)
}

func newLocalPort(e *environment, capacity, maxMessage int) *Port {
	h := &portHeader{
		capacity:   int64(capacity),
		maxMessage: int64(maxMessage),
		refcount:   1,
	}
	locker := NewLocker()
	p := &Port{
		mode:    ModeLocal,
		h:       h,
		mu:      lockerMutex{l: locker},
		ring:    newHeapRing(capacity),
		readers: newLocalSemaphore(0),
		writers: newLocalSemaphore(0),
		locker:  locker,
	}
	p.id = portTable().Register(p)

	e.metrics.RecordCreated("port", ModeLocal.String())
	return p
}

func (p *Port) enter() error {
	p.ops.RLock()
	if p.deleted.Load() {
		p.ops.RUnlock()
		return ErrDeleted
	}
	return nil
}

func (p *Port) leave() {
	p.ops.RUnlock()
}

// ID returns the handle's process-wide id.
func (p *Port) ID() int64 { return p.id }

// Name returns the port's name, empty for local ports.
func (p *Port) Name() string { return p.name }

// Mode reports where the port lives.
func (p *Port) Mode() Mode { return p.mode }

// Capacity returns how many messages the port holds.
func (p *Port) Capacity() int { return int(p.h.capacity) }

// MaxMessageSize returns the largest payload the port accepts.
func (p *Port) MaxMessageSize() int { return int(p.h.maxMessage) }

// Clone returns a new handle to the same port.
func (p *Port) Clone() (*Port, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.mode == ModeIPC {
		return OpenPort(p.name)
	}

	p.mu.lock()
	if p.h.refcount <= 0 {
		p.mu.unlock()
		return nil, ErrNotFound
	}
	p.h.refcount++
	p.mu.unlock()

	locker, err := p.locker.Clone()
	if err != nil {
		p.unref()
		return nil, err
	}
	readers, err := p.readers.Clone()
	if err != nil {
		locker.Delete()
		p.unref()
		return nil, err
	}
	writers, err := p.writers.Clone()
	if err != nil {
		readers.Delete()
		locker.Delete()
		p.unref()
		return nil, err
	}

	c := &Port{
		mode:    ModeLocal,
		h:       p.h,
		mu:      lockerMutex{l: locker},
		ring:    p.ring,
		readers: readers,
		writers: writers,
		locker:  locker,
	}
	c.id = portTable().Register(c)
	return c, nil
}

// unref drops a reference taken by a clone that could not be completed.
func (p *Port) unref() {
	p.mu.lock()
	p.h.refcount--
	p.mu.unlock()
}

// Write appends a message, waiting for a free slot if the port is full.
// Writes to a closed port fail with ErrClosed.
func (p *Port) Write(code int32, payload []byte, timeout Timeout) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if int64(len(payload)) > p.h.maxMessage {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", ErrBadValue, len(payload), p.h.maxMessage)
	}

	m := env().metrics
	timer := monitoring.NewTimer(m, "port", "write")
	err := p.write(code, payload, timeout.start())
	timer.Stop(resultOf(err))
	if err == nil {
		m.RecordPortMessage("write")
	}
	return err
}

func (p *Port) write(code int32, payload []byte, dl deadline) error {
	h := p.h
	p.mu.lock()
	defer p.mu.unlock()

	for {
		if p.deleted.Load() {
			return ErrDeleted
		}
		if h.closed != 0 {
			return ErrClosed
		}
		if h.queueCount < h.capacity {
			break
		}
		if dl.try {
			return ErrWouldBlock
		}

		err := p.waitOn(p.writers, &h.writerWait, dl)
		switch {
		case err == nil, errors.Is(err, ErrClosed):
		case h.closed == 0 && h.queueCount < h.capacity && !errors.Is(err, ErrDeleted):
			// A slot freed up as the wait ended.
		default:
			return err
		}
	}

	p.enqueueLocked(code, payload)
	return nil
}

// enqueueLocked appends a message to a port with a free slot and wakes
// waiting readers.
func (p *Port) enqueueLocked(code int32, payload []byte) {
	h := p.h
	slot := (h.head + h.queueCount) % h.capacity
	p.ring.put(slot, code, payload)
	h.queueCount++

	if h.readerWait > 0 {
		p.readers.raiseTo(h.readerWait)
	}
}

// waitOn sleeps on sem until a peer signals progress. It is entered and
// left with the port lock held.
func (p *Port) waitOn(sem *Semaphore, waiters *int64, dl deadline) error {
	*waiters++
	p.mu.unlock()

	err := sem.wait(dl)

	p.mu.lock()
	*waiters--
	return err
}

// Read removes the oldest message. After Close, queued messages are still
// delivered; once the port is empty reads fail with ErrClosed.
func (p *Port) Read(timeout Timeout) (int32, []byte, error) {
	var (
		code    int32
		payload []byte
	)
	err := p.receive("read", timeout, func(slot int64) bool {
		payload = make([]byte, p.ring.size(slot))
		code = p.ring.get(slot, payload)
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	return code, payload, nil
}

// ReadInto removes the oldest message, copying as much of its payload as
// fits in buf. It returns the code and the number of bytes copied.
func (p *Port) ReadInto(buf []byte, timeout Timeout) (int32, int, error) {
	var (
		code int32
		n    int
	)
	err := p.receive("read", timeout, func(slot int64) bool {
		n = min(len(buf), p.ring.size(slot))
		code = p.ring.get(slot, buf[:n])
		return true
	})
	if err != nil {
		return 0, 0, err
	}
	return code, n, nil
}

// PeekSize waits for a message and returns its payload size without
// removing it.
func (p *Port) PeekSize(timeout Timeout) (int, error) {
	var size int
	err := p.receive("peek", timeout, func(slot int64) bool {
		size = p.ring.size(slot)
		return false
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// receive waits for a message and hands its slot to take, which reports
// whether the message is consumed.
func (p *Port) receive(op string, timeout Timeout, take func(slot int64) bool) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	m := env().metrics
	timer := monitoring.NewTimer(m, "port", op)
	consumed, err := p.dequeue(timeout.start(), take)
	timer.Stop(resultOf(err))
	if consumed {
		m.RecordPortMessage("read")
	}
	return err
}

func (p *Port) dequeue(dl deadline, take func(slot int64) bool) (bool, error) {
	h := p.h
	p.mu.lock()
	defer p.mu.unlock()

	for h.queueCount == 0 {
		if p.deleted.Load() {
			return false, ErrDeleted
		}
		if h.closed != 0 {
			return false, ErrClosed
		}
		if dl.try {
			return false, ErrWouldBlock
		}

		err := p.waitOn(p.readers, &h.readerWait, dl)
		switch {
		case err == nil, errors.Is(err, ErrClosed):
		case h.queueCount > 0 && !errors.Is(err, ErrDeleted):
			// A message arrived as the wait ended.
		default:
			return false, err
		}
	}

	if !take(h.head) {
		return false, nil
	}
	h.head = (h.head + 1) % h.capacity
	h.queueCount--

	if h.writerWait > 0 {
		p.writers.raiseTo(h.writerWait)
	}
	return true, nil
}

// Count returns the number of queued messages.
func (p *Port) Count() (int, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.leave()

	p.mu.lock()
	defer p.mu.unlock()
	return int(p.h.queueCount), nil
}

// Info returns a snapshot of the port.
func (p *Port) Info() (PortInfo, error) {
	if err := p.enter(); err != nil {
		return PortInfo{}, err
	}
	defer p.leave()

	p.mu.lock()
	defer p.mu.unlock()

	h := p.h
	return PortInfo{
		ID:             p.id,
		Name:           p.name,
		Mode:           p.mode,
		Capacity:       int(h.capacity),
		QueueCount:     int(h.queueCount),
		MaxMessageSize: int(h.maxMessage),
		ReadersWaiting: h.readerWait,
		WritersWaiting: h.writerWait,
		RefCount:       h.refcount,
		Closed:         h.closed != 0,
	}, nil
}

// Close marks the port closed and releases every blocked reader and
// writer. Closing is permanent.
func (p *Port) Close() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.mu.lock()
	defer p.mu.unlock()

	if p.h.closed != 0 {
		return ErrClosed
	}
	p.h.closed = 1
	p.readers.Close()
	p.writers.Close()
	return nil
}

// Delete releases this handle; the port is destroyed with its last one.
func (p *Port) Delete() error {
	if !p.deleted.CompareAndSwap(false, true) {
		return ErrDeleted
	}

	// Wake callers blocked through this handle; they observe the deletion
	// and leave. Calls still in flight can signal peers until ops is ours.
	p.readers.interrupt()
	p.writers.interrupt()

	p.ops.Lock()
	defer p.ops.Unlock()

	portTable().Unregister(p.id)
	p.readers.Delete()
	p.writers.Delete()

	e := env()
	if p.mode == ModeIPC {
		e.lockIPC()
		defer e.unlockIPC()
	}

	p.mu.lock()
	p.h.refcount--
	last := p.h.refcount <= 0
	if last {
		p.h.closed = 1
	}
	p.mu.unlock()

	if p.mode == ModeIPC {
		p.area.deleteLocked(last)
	} else {
		p.locker.Delete()
	}
	if last {
		e.metrics.RecordDestroyed("port", p.mode.String())
		e.log.Debug("port destroyed", zap.Int64("id", p.id), zap.String("name", p.name))
	}
	return nil
}
