package engine

import (
	"time"

	"github.com/SeraKah-1/neuronotespro/internal/provider"
)

// Policy decides, after a failed phase attempt, whether to retry, how long
// to back off, and whether the circuit breaker must open. It is pure: the
// engine owns all counters and feeds them in.
type Policy struct {
	// MaxAttempts is the number of attempts per phase before the item
	// is marked as failed.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: delay = BaseDelay * 2^attempt.
	BaseDelay time.Duration
	// BreakerThreshold is the count of consecutive cross-item failures at
	// which the circuit opens. Zero disables the breaker.
	BreakerThreshold int
}

// Decision is the outcome of Policy.Decide for one failed attempt.
type Decision struct {
	Retry       bool
	Delay       time.Duration
	OpenBreaker bool
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        2 * time.Second,
		BreakerThreshold: 3,
	}
}

// Decide evaluates a failed attempt. attempt is the zero-based index of the
// attempt that just failed; consecutiveFailures is the cross-item failure
// count including this attempt.
//
// Breaker takes precedence over retry: sustained failure stops the run even
// when the current item still has attempts left. Errors that will
// deterministically fail again (bad request, auth) are never retried.
func (p Policy) Decide(attempt int, err error, consecutiveFailures int) Decision {
	if p.BreakerThreshold > 0 && consecutiveFailures >= p.BreakerThreshold {
		return Decision{OpenBreaker: true}
	}
	if !provider.Retryable(err) {
		return Decision{}
	}
	if attempt+1 >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{
		Retry: true,
		Delay: p.BaseDelay << attempt,
	}
}
