package backendclient

import (
	"math"
	"time"
)

// scheduleInitial, scheduleFactor, and scheduleCap describe the exact
// retry schedule doRetried configures on the underlying exponential
// backoff: 2s, 4s, 8s, capped at 30s.
const (
	scheduleInitial = 2 * time.Second
	scheduleFactor  = 2.0
	scheduleCap     = 30 * time.Second
)

// DelayForAttempt returns the delay before retry attempt n (1-indexed:
// the first retry is attempt 1). doRetried logs it alongside each failed
// attempt; tests assert the schedule directly against it.
func DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(scheduleInitial) * math.Pow(scheduleFactor, float64(attempt-1))
	if base > float64(scheduleCap) {
		base = float64(scheduleCap)
	}
	return time.Duration(base)
}
