package kernel

// niceValue maps a time-shared priority to a nice value.
func niceValue(priority int32) int {
	if priority <= NormalPriority {
		return 19 - int(priority)*19/int(NormalPriority)
	}
	span := int(RealTimeDisplayPriority - 1 - NormalPriority)
	return -int(priority-NormalPriority) * 20 / span
}

// rtPriority maps a real-time priority to a SCHED_RR priority.
func rtPriority(priority int32) int {
	span := int(RealTimePriority - RealTimeDisplayPriority)
	return 1 + int(priority-RealTimeDisplayPriority)*98/span
}
