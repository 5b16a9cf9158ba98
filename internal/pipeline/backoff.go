package pipeline

import (
	"math/rand"
	"time"
)

// RetryPolicy is the bounded retry schedule for transient execution errors.
// The attempt count, delay growth, and cap are all explicit so the bound is
// independently testable.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy matches the adapter timeout characteristics: three
// retries, one second base, thirty second cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns the backoff before retry number attempt (0-based), growing
// exponentially from BaseDelay with up to 25% random jitter, capped at
// MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^63 ns overflows long before attempt 30.
	if attempt > 30 {
		attempt = 30
	}
	backoff := p.BaseDelay * time.Duration(1<<attempt)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	if backoff+jitter > p.MaxDelay {
		return p.MaxDelay
	}
	return backoff + jitter
}

// Exhausted reports whether retry number attempt (0-based) exceeds the bound.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}
