package quota

import "time"

// DefaultResetWindow is the period after which a balance returns to its
// baseline.
const DefaultResetWindow = 24 * time.Hour

// ShouldReset reports whether a record whose balance was last reset at
// lastResetAt is due for a fresh baseline at now. A zero lastResetAt is
// always due.
func ShouldReset(lastResetAt, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultResetWindow
	}
	if lastResetAt.IsZero() {
		return true
	}
	return now.Sub(lastResetAt) > window
}

// NextReset returns the instant the current window ends for a balance
// reset at now.
func NextReset(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultResetWindow
	}
	return now.Add(window)
}
