package kernel

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/GriffinCanCode/kernelkit/internal/futex"
)

// semMagic marks an initialised semaphore header ("ksem").
const semMagic = 0x6b73656d

// semAreaSize is the area size backing one named semaphore.
var semAreaSize = os.Getpagesize()

// overlaySem views the start of an area as a semaphore header. Mappings are
// page aligned, so the header's 8-byte fields are aligned too.
func overlaySem(a *Area) (*semState, error) {
	b := a.Bytes()
	if len(b) < int(unsafe.Sizeof(semState{})) {
		return nil, fmt.Errorf("%w: area %q too small for a semaphore", ErrNotFound, a.Name())
	}
	return (*semState)(unsafe.Pointer(&b[0])), nil
}

func createIPCSemaphoreLocked(e *environment, count int64, name string, domain Domain, access Access) (*Semaphore, error) {
	area, err := createAreaLocked(e, name, semAreaSize, ProtectRead|ProtectWrite, domain, access)
	if err != nil {
		return nil, err
	}
	st, err := overlaySem(area)
	if err != nil {
		area.deleteLocked(true)
		return nil, err
	}

	// Fresh areas are zero-filled; the magic word goes in last.
	futex.Lock(&st.lock)
	st.count = count
	st.refcount = 1
	st.magic = semMagic
	futex.Unlock(&st.lock)

	e.metrics.RecordCreated("semaphore", ModeIPC.String())
	return newSemaphoreHandle(name, ModeIPC, st, newSharedQueue(&st.lock, &st.seq), area), nil
}

func cloneIPCSemaphoreLocked(e *environment, name string, domain Domain) (*Semaphore, error) {
	area, err := cloneAreaLocked(e, name, ProtectRead|ProtectWrite, domain)
	if err != nil {
		return nil, err
	}
	st, err := overlaySem(area)
	if err != nil {
		area.deleteLocked(false)
		return nil, err
	}

	q := newSharedQueue(&st.lock, &st.seq)
	q.lock()
	if st.magic != semMagic || st.refcount <= 0 {
		q.unlock()
		area.deleteLocked(false)
		return nil, fmt.Errorf("%w: semaphore %q", ErrNotFound, name)
	}
	st.refcount++
	q.unlock()

	return newSemaphoreHandle(name, ModeIPC, st, q, area), nil
}
