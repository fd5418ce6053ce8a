//go:build !linux

package shm

import "golang.org/x/sys/unix"

func remapInPlace(data []byte, size int) ([]byte, error) {
	if size < len(data) {
		return data[:size], nil
	}
	return nil, unix.ENOMEM
}
