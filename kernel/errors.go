package kernel

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Error definitions for kernel operations
var (
	ErrBadValue   = errors.New("kernel: bad value")
	ErrNotFound   = errors.New("kernel: entry not found")
	ErrNoMemory   = errors.New("kernel: no memory")
	ErrWouldBlock = errors.New("kernel: operation would block")
	ErrTimedOut   = errors.New("kernel: operation timed out")
	ErrClosed     = errors.New("kernel: closed")
	ErrBusy       = errors.New("kernel: busy")
	ErrOverflow   = errors.New("kernel: count overflow")
	ErrNotAllowed = errors.New("kernel: operation not allowed")

	// ErrEntryNotFound is the name used by callers that open resources by name.
	ErrEntryNotFound = ErrNotFound

	// ErrDeleted is returned by any call on a handle after Delete.
	ErrDeleted = fmt.Errorf("%w: handle deleted", ErrBadValue)
)

// osError classifies an error from the OS layer while keeping the cause.
func osError(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := ErrBadValue
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = ErrNotFound
	case errors.Is(err, fs.ErrExist):
		kind = ErrBusy
	case errors.Is(err, unix.ENOMEM), errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		kind = ErrNoMemory
	case errors.Is(err, fs.ErrPermission):
		kind = ErrNotAllowed
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// resultOf labels an outcome for metrics.
func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrWouldBlock):
		return "would_block"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
