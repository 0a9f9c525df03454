package backoff

import (
	"math"
	"time"
)

type Config struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Exponential returns the delay before the given attempt (1-based). Attempt 1
// waits Base; each later attempt multiplies by Factor, capped at Max.
func Exponential(cfg Config) func(attempt int) time.Duration {
	base := cfg.Base
	max := cfg.Max
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 || base <= 0 {
			return 0
		}
		delay := float64(base) * math.Pow(factor, float64(attempt-1))
		if delay < 0 {
			return 0
		}
		if max > 0 && delay > float64(max) {
			return max
		}
		if delay > float64(math.MaxInt64) {
			if max > 0 {
				return max
			}
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	}
}

// Fixed always waits d. Used when reconnect parity with the fixed 5s delay is wanted.
func Fixed(d time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}
		return d
	}
}
