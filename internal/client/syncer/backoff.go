package syncer

import "time"

// Backoff returns min(max, base*2^attempt). attempt counts from zero.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 30 {
		return max
	}
	d := base << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}
