package pipeline

import "time"

// NextRetry computes the next retry window with linear backoff: the delay
// grows with the attempt count and is capped so long-failing candidates
// still come back around. retryCount is the count after the failed attempt.
func NextRetry(now time.Time, retryCount int, base, ceiling time.Duration) time.Time {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base * time.Duration(retryCount)
	if delay > ceiling || delay < 0 {
		delay = ceiling
	}
	return now.Add(delay)
}
