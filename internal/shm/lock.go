package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive advisory lock on a file, shared by every process
// that opens the same path.
type FileLock struct {
	path string
	fd   int
}

// OpenLock opens (creating if needed) the lock file at path.
func OpenLock(path string) (*FileLock, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shm: open lock %s: %w", path, err)
	}
	return &FileLock{path: path, fd: fd}, nil
}

// Lock blocks until the exclusive lock is held.
func (l *FileLock) Lock() error {
	for {
		err := unix.Flock(l.fd, unix.LOCK_EX)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("shm: lock %s: %w", l.path, err)
		}
		return nil
	}
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("shm: unlock %s: %w", l.path, err)
	}
	return nil
}

// Close releases the descriptor, dropping the lock if held.
func (l *FileLock) Close() error {
	return unix.Close(l.fd)
}
