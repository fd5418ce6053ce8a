package kernel

import (
	"math"
	"time"
)

type timeoutKind uint8

const (
	timeoutRelative timeoutKind = iota
	timeoutAbsolute
	timeoutInfinite
)

// Timeout bounds how long a blocking call may wait.
//
// A relative timeout of zero is a "try" call: it fails with ErrWouldBlock
// instead of blocking. Absolute timeouts are wall-clock instants; one that has
// already passed fails with ErrTimedOut once the resource is found unavailable.
type Timeout struct {
	kind timeoutKind
	d    time.Duration
	at   time.Time
}

var (
	// Infinite waits until the call succeeds or the resource closes.
	Infinite = Timeout{kind: timeoutInfinite}

	// NoWait never blocks.
	NoWait = Timeout{kind: timeoutRelative}
)

// Relative waits at most d from the start of the call. Negative durations
// behave like NoWait; math.MaxInt64 behaves like Infinite.
func Relative(d time.Duration) Timeout {
	if d < 0 {
		d = 0
	}
	if d == math.MaxInt64 {
		return Infinite
	}
	return Timeout{kind: timeoutRelative, d: d}
}

// Absolute waits until the wall-clock instant t.
func Absolute(t time.Time) Timeout {
	return Timeout{kind: timeoutAbsolute, at: t}
}

// String describes the timeout for logs.
func (t Timeout) String() string {
	switch t.kind {
	case timeoutInfinite:
		return "infinite"
	case timeoutAbsolute:
		return "until " + t.at.Format(time.RFC3339Nano)
	default:
		if t.d == 0 {
			return "no-wait"
		}
		return t.d.String()
	}
}

// deadline is a Timeout anchored at the moment a call started.
type deadline struct {
	infinite bool
	try      bool
	at       time.Time
}

func (t Timeout) start() deadline {
	switch t.kind {
	case timeoutInfinite:
		return deadline{infinite: true}
	case timeoutAbsolute:
		return deadline{at: t.at}
	default:
		if t.d == 0 {
			return deadline{try: true}
		}
		return deadline{at: time.Now().Add(t.d)}
	}
}

// remaining returns the time left, or -1 for an infinite deadline.
func (d deadline) remaining() time.Duration {
	if d.infinite {
		return -1
	}
	if d.try {
		return 0
	}
	rem := time.Until(d.at)
	if rem < 0 {
		return 0
	}
	return rem
}

func (d deadline) expired() bool {
	return !d.infinite && d.remaining() == 0
}

// sleep waits on q for the rest of the deadline. q must be locked.
func (d deadline) sleep(q waitQueue) (timedOut bool) {
	rem := d.remaining()
	if rem == 0 {
		return true
	}
	return q.wait(rem)
}

// timeout converts the rest of the deadline back into a Timeout, for
// handing the same budget to a nested blocking call.
func (d deadline) timeout() Timeout {
	switch {
	case d.infinite:
		return Infinite
	case d.try:
		return NoWait
	default:
		return Absolute(d.at)
	}
}
