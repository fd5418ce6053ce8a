// Package goid identifies the calling goroutine.
//
// Lockers and semaphores record the "thread" that holds them. In Go the unit
// of execution a caller can observe is the goroutine, so the goroutine id
// parsed from the runtime stack header plays the role of a thread id.
package goid

import "runtime"

// Current returns the id of the calling goroutine, or 0 if it cannot be parsed.
func Current() int64 {
	// "goroutine 123 [running]:\n..." fits comfortably in 64 bytes.
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts the numeric id from a stack trace header.
func parse(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var id int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
