// Package retry provides the delay schedule applied between attempts of a
// failed extraction task.
package retry

import "time"

// Schedule holds the per-attempt retry delays. Attempts beyond the
// configured list reuse the last delay.
type Schedule struct {
	Delays []time.Duration
}

// DefaultSchedule builds a schedule from a base delay, doubling up to the
// given number of retries.
func DefaultSchedule(base time.Duration, maxRetries int) Schedule {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	delays := make([]time.Duration, maxRetries)
	d := base
	for i := range delays {
		delays[i] = d
		d *= 2
	}
	return Schedule{Delays: delays}
}

// DelayFor returns the delay to apply before the given retry. The first
// retry is retryCount 0.
func (s Schedule) DelayFor(retryCount int) time.Duration {
	if len(s.Delays) == 0 {
		return 30 * time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(s.Delays) {
		retryCount = len(s.Delays) - 1
	}
	return s.Delays[retryCount]
}
