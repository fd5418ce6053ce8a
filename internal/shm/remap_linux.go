//go:build linux

package shm

import "golang.org/x/sys/unix"

// remapInPlace uses mremap without MREMAP_MAYMOVE so existing pointers into
// the mapping stay valid.
func remapInPlace(data []byte, size int) ([]byte, error) {
	return unix.Mremap(data, size, 0)
}
