package kernel

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/GriffinCanCode/kernelkit/internal/futex"
)

// portMagic marks an initialised port header ("kprt").
const portMagic = 0x6b707274

// Slot layout: int32 code, 4 bytes padding, uint64 length, payload.
const (
	slotCodeOffset   = 0
	slotLengthOffset = 8
	slotHeaderSize   = 16
)

var portHeaderSize = int64(unsafe.Sizeof(portHeader{}))

func slotStride(maxMessage int64) int64 {
	return (slotHeaderSize + maxMessage + 7) &^ 7
}

// futexMutex guards an IPC port header.
type futexMutex struct {
	word *uint32
}

func (m futexMutex) lock()   { futex.Lock(m.word) }
func (m futexMutex) unlock() { futex.Unlock(m.word) }

// sharedRing is the slot store of an IPC port, laid out after the header.
type sharedRing struct {
	data   []byte
	stride int64
}

func (r sharedRing) slot(i int64) []byte {
	off := portHeaderSize + i*r.stride
	return r.data[off : off+r.stride]
}

func (r sharedRing) put(i int64, code int32, payload []byte) {
	s := r.slot(i)
	binary.NativeEndian.PutUint32(s[slotCodeOffset:], uint32(code))
	binary.NativeEndian.PutUint64(s[slotLengthOffset:], uint64(len(payload)))
	copy(s[slotHeaderSize:], payload)
}

// size returns the stored length, clamped to the slot.
func (r sharedRing) size(i int64) int {
	n := binary.NativeEndian.Uint64(r.slot(i)[slotLengthOffset:])
	return int(min(n, uint64(r.stride-slotHeaderSize)))
}

func (r sharedRing) get(i int64, dst []byte) int32 {
	s := r.slot(i)
	n := r.size(i)
	copy(dst, s[slotHeaderSize:slotHeaderSize+n])
	return int32(binary.NativeEndian.Uint32(s[slotCodeOffset:]))
}

func overlayPort(a *Area) (*portHeader, error) {
	b := a.Bytes()
	if int64(len(b)) < portHeaderSize {
		return nil, fmt.Errorf("%w: area %q too small for a port", ErrNotFound, a.Name())
	}
	return (*portHeader)(unsafe.Pointer(&b[0])), nil
}

func createIPCPortLocked(e *environment, capacity, maxMessage int, name string, access Access) (*Port, error) {
	stride := slotStride(int64(maxMessage))
	size := portHeaderSize + int64(capacity)*stride
	if size > MaxAreaSize {
		return nil, fmt.Errorf("%w: port of %d bytes", ErrNoMemory, size)
	}

	area, err := createAreaLocked(e, name, int(size), ProtectRead|ProtectWrite, DomainPort, access)
	if err != nil {
		return nil, err
	}
	h, err := overlayPort(area)
	if err != nil {
		area.deleteLocked(true)
		return nil, err
	}

	readers, err := createIPCSemaphoreLocked(e, 0, name, DomainPortRead, access)
	if err != nil {
		area.deleteLocked(true)
		return nil, err
	}
	writers, err := createIPCSemaphoreLocked(e, 0, name, DomainPortWrite, access)
	if err != nil {
		readers.deleteLocked(e)
		area.deleteLocked(true)
		return nil, err
	}

	futex.Lock(&h.lock)
	h.capacity = int64(capacity)
	h.maxMessage = int64(maxMessage)
	h.slotStride = stride
	h.refcount = 1
	h.magic = portMagic
	futex.Unlock(&h.lock)

	e.metrics.RecordCreated("port", ModeIPC.String())
	return newIPCPortHandle(name, h, area, readers, writers), nil
}

func openIPCPortLocked(e *environment, name string) (*Port, error) {
	area, err := cloneAreaLocked(e, name, ProtectRead|ProtectWrite, DomainPort)
	if err != nil {
		return nil, err
	}
	h, err := overlayPort(area)
	if err != nil {
		area.deleteLocked(false)
		return nil, err
	}

	mu := futexMutex{word: &h.lock}
	mu.lock()
	valid := h.magic == portMagic && h.refcount > 0 &&
		portHeaderSize+h.capacity*h.slotStride <= int64(len(area.Bytes()))
	if !valid {
		mu.unlock()
		area.deleteLocked(false)
		return nil, fmt.Errorf("%w: port %q", ErrNotFound, name)
	}
	h.refcount++
	mu.unlock()

	// Undo the reference if the semaphores are gone; the port is dying.
	rollback := func() {
		mu.lock()
		h.refcount--
		last := h.refcount <= 0
		mu.unlock()
		area.deleteLocked(last)
	}

	readers, err := cloneIPCSemaphoreLocked(e, name, DomainPortRead)
	if err != nil {
		rollback()
		return nil, err
	}
	writers, err := cloneIPCSemaphoreLocked(e, name, DomainPortWrite)
	if err != nil {
		readers.deleteLocked(e)
		rollback()
		return nil, err
	}

	return newIPCPortHandle(name, h, area, readers, writers), nil
}

func newIPCPortHandle(name string, h *portHeader, area *Area, readers, writers *Semaphore) *Port {
	p := &Port{
		name:    name,
		mode:    ModeIPC,
		h:       h,
		mu:      futexMutex{word: &h.lock},
		ring:    sharedRing{data: area.Bytes(), stride: h.slotStride},
		readers: readers,
		writers: writers,
		area:    area,
	}
	p.id = portTable().Register(p)
	return p
}
