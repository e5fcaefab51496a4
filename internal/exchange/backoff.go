package exchange

import "time"

// Backoff returns the exponential delay for a retry attempt:
// base * 2^retry, capped at max. Negative retry returns base.
func Backoff(retry int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	if retry < 0 {
		return base
	}
	if retry > 30 {
		return max
	}
	delay := base * time.Duration(1<<retry)
	if delay > max {
		return max
	}
	return delay
}
