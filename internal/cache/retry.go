package cache

import "time"

// RetryPolicy decides what happens after the attempt-th consecutive failed
// connection attempt (1-based): wait delay and try again, or stop.
type RetryPolicy func(attempt int) (delay time.Duration, retry bool)

// LinearBackoff waits attempt*step, capped at max, for at most maxRetries
// retries.
func LinearBackoff(step, max time.Duration, maxRetries int) RetryPolicy {
	return func(attempt int) (time.Duration, bool) {
		if attempt < 1 || attempt > maxRetries {
			return 0, false
		}
		d := time.Duration(attempt) * step
		if d > max {
			d = max
		}
		return d, true
	}
}
