//go:build !linux

package kernel

import "os"

func osThreadID() int {
	return os.Getpid()
}

// setOSPriority is a no-op; the abstract priority is only recorded.
func setOSPriority(int, int32) error {
	return nil
}
