package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Segment is a named shared-memory object mapped into this process.
//
// The backing object is a file in a tmpfs-style directory (/dev/shm on Linux),
// which is what shm_open uses under the hood. Every process that maps the same
// file sees the same bytes.
type Segment struct {
	name     string // File name inside dir
	path     string // Absolute path of the backing object
	fd       int    // Descriptor kept open for resize
	data     []byte // Mapping
	writable bool
}

// Create creates and maps a new segment. It fails with an error matching
// fs.ErrExist when the backing object already exists.
func Create(dir, name string, size int, perm os.FileMode) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: create %s: invalid size %d", name, size)
	}

	path := filepath.Join(dir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, uint32(perm.Perm()))
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}

	// Undo everything on failure so no half-built object survives.
	fail := func(err error) (*Segment, error) {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}

	// The umask may have narrowed the requested permissions.
	if err := unix.Fchmod(fd, uint32(perm.Perm())); err != nil {
		return fail(err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fail(err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(err)
	}

	return &Segment{name: name, path: path, fd: fd, data: data, writable: true}, nil
}

// Open maps an existing segment. A missing object yields an error matching
// fs.ErrNotExist.
func Open(dir, name string, writable bool) (*Segment, error) {
	path := filepath.Join(dir, name)

	flags, prot := unix.O_RDONLY, unix.PROT_READ
	if writable {
		flags, prot = unix.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}

	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	if st.Size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: open %s: %w", name, fs.ErrNotExist)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), prot, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: map %s: %w", name, err)
	}

	return &Segment{name: name, path: path, fd: fd, data: data, writable: writable}, nil
}

// Name returns the backing object's name inside its directory.
func (s *Segment) Name() string {
	return s.name
}

// Size returns the mapped length in bytes.
func (s *Segment) Size() int {
	return len(s.data)
}

// Bytes returns the mapping. The slice is invalid after Close.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Writable reports whether the mapping allows stores.
func (s *Segment) Writable() bool {
	return s.writable
}

// Resize changes the segment length without moving the mapping. Growing
// fails with unix.ENOMEM when the address range after the mapping is taken.
func (s *Segment) Resize(size int) error {
	if size <= 0 {
		return fmt.Errorf("shm: resize %s: invalid size %d", s.name, size)
	}
	if size == len(s.data) {
		return nil
	}

	old := len(s.data)
	if size > old {
		if err := unix.Ftruncate(s.fd, int64(size)); err != nil {
			return fmt.Errorf("shm: resize %s: %w", s.name, err)
		}
	}

	data, err := remapInPlace(s.data, size)
	if err != nil {
		if size > old {
			unix.Ftruncate(s.fd, int64(old))
		}
		return fmt.Errorf("shm: resize %s: %w", s.name, err)
	}
	s.data = data

	if size < old {
		if err := unix.Ftruncate(s.fd, int64(size)); err != nil {
			return fmt.Errorf("shm: resize %s: %w", s.name, err)
		}
	}
	return nil
}

// Close unmaps the segment and releases the descriptor. The backing object
// stays until Unlink.
func (s *Segment) Close() error {
	var errs []error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, err)
		}
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, err)
		}
		s.fd = -1
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shm: close %s: %w", s.name, err)
	}
	return nil
}

// Unlink removes the backing object. Existing mappings stay valid.
func Unlink(dir, name string) error {
	if err := unix.Unlink(filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("shm: unlink %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a backing object with the given name is present.
func Exists(dir, name string) bool {
	var st unix.Stat_t
	return unix.Stat(filepath.Join(dir, name), &st) == nil
}
