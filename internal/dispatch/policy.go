package dispatch

import (
	"math"
	"time"
)

// RetryPolicy computes backoff delays and the retry cutoff for delivery
// lineages. Delay grows as Base * Multiplier^attempt and is capped at Max so
// late attempts do not drift out to hours.
type RetryPolicy struct {
	Base        time.Duration
	Multiplier  int
	Max         time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        time.Second,
		Multiplier:  2,
		Max:         5 * time.Minute,
		MaxAttempts: 3,
	}
}

// BackoffDelay returns the delay before re-delivering after a failure at the
// given 0-based attempt index.
func (p RetryPolicy) BackoffDelay(attemptIndex int) time.Duration {
	if p.Base <= 0 || attemptIndex < 0 {
		return 0
	}
	raw := time.Duration(float64(p.Base) * math.Pow(float64(p.Multiplier), float64(attemptIndex)))
	if p.Max > 0 && (raw > p.Max || raw <= 0) {
		raw = p.Max
	}
	return raw
}

// ShouldRetry reports whether a failed attempt at the given index leaves
// retry budget. A negative maxAttempts falls back to the policy default;
// zero means no retries. Partners carry their own override via
// Partner.RetryAttempts.
func (p RetryPolicy) ShouldRetry(attemptIndex, maxAttempts int) bool {
	if maxAttempts < 0 {
		maxAttempts = p.MaxAttempts
	}
	return attemptIndex < maxAttempts
}
