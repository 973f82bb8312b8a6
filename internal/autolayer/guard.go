package autolayer

// ShouldSuppress reports whether pointer activity at now should be
// suppressed because a key tap happened within the idle threshold.
// All arguments share the monotonic millisecond clock; 64-bit
// arithmetic keeps the sum from wrapping over any realistic uptime.
// A zero threshold never suppresses.
func ShouldSuppress(lastTap, now, idleThresholdMs int64) bool {
	if idleThresholdMs <= 0 {
		return false
	}
	return lastTap+idleThresholdMs > now
}
