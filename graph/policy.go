package graph

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry behavior for transient failures inside
// a node body (LLM calls, tool calls). Exponential backoff with jitter
// avoids synchronized retry storms.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1 (no retries).
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: delay = min(BaseDelay *
	// 2^attempt, MaxDelay) + jitter(0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential component.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. Nil retries
	// every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy suits LLM and external API calls: three attempts with a
// one second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Backoff computes the delay before the given zero-based retry attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(p.BaseDelay)))
	return delay + jitter
}

// Retry runs fn under the policy, sleeping between attempts and honoring
// context cancellation. The last error is returned when attempts are
// exhausted or the error is not retryable.
func (p RetryPolicy) Retry(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}
