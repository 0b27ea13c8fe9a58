package api

import "time"

const (
	// DefaultBaseDelay is the backoff unit between retries.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the backoff between retries.
	DefaultMaxDelay = 3 * time.Second
)

// RetryPolicy controls the pause between failed attempts of a step.
// The number of attempts comes from StepDefinition.MaxRetries; the policy
// only decides how long to wait.
//
// Backoff is linear:
//
//	delay(n) = min(n * BaseDelay, MaxDelay)
//
// where n is the 1-based number of the attempt that just failed. A zero
// BaseDelay retries immediately. A zero MaxDelay means no cap.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 1s, 2s, 3s, 3s, ...
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

// Delay returns the pause after the given failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	d := time.Duration(attempt) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
