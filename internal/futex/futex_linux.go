//go:build linux

package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non-private) operations: the words live in MAP_SHARED memory that
// other processes may map.
const (
	opWait = 0
	opWake = 1
)

// wait sleeps while *word == val. It reports true only when the kernel says
// the timeout expired.
func wait(word *uint32, val uint32, timeout time.Duration) bool {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)), opWait, uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	return errno == unix.ETIMEDOUT
}

func wake(word *uint32, n int) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)), opWake, uintptr(n), 0, 0, 0)
}
