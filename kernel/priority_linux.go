//go:build linux

package kernel

import "golang.org/x/sys/unix"

const (
	schedNormal = 0
	schedRR     = 2
)

func osThreadID() int {
	return unix.Gettid()
}

// setOSPriority maps an abstract priority onto tid: background levels map
// to nice 19..0, the rest of the time-shared range to nice 0..-20, and
// real-time levels to SCHED_RR 1..99.
func setOSPriority(tid int, priority int32) error {
	attr := unix.SchedAttr{Size: unix.SizeofSchedAttr}
	if priority >= RealTimeDisplayPriority {
		attr.Policy = schedRR
		attr.Priority = uint32(rtPriority(priority))
	} else {
		attr.Policy = schedNormal
		attr.Nice = int32(niceValue(priority))
	}
	return unix.SchedSetAttr(tid, &attr, 0)
}
