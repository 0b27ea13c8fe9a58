package synapse

import (
	"time"

	"github.com/petrijr/synapse/pkg/api"
)

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with WithRetryPolicy. The number of retries is set per step; the
// policy only controls the pause between attempts.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts from the default policy: 1s, 2s, 3s, 3s, ...
func Retry() RetryBuilder {
	return RetryBuilder{policy: api.DefaultRetryPolicy()}
}

// WithLinearBackoff waits n*base after the n-th failed attempt, capped at
// max. A max <= 0 means no cap.
//
// Example:
//
//	Retry().WithLinearBackoff(100*time.Millisecond, time.Second)
func (r RetryBuilder) WithLinearBackoff(base, max time.Duration) RetryBuilder {
	p := r.policy
	p.BaseDelay = base
	if max < 0 {
		max = 0
	}
	p.MaxDelay = max
	return RetryBuilder{policy: p}
}

// WithConstantBackoff waits the same delay after every failed attempt.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.BaseDelay = delay
	p.MaxDelay = delay
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
func (r RetryBuilder) Immediate() RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{}}
}

// Policy returns the underlying RetryPolicy to be passed to WithRetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
