package graph

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Retry(t *testing.T) {
	fast := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds first attempt", func(t *testing.T) {
		calls := 0
		err := fast.Retry(context.Background(), func() error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := fast.Retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("exhausts attempts and returns last error", func(t *testing.T) {
		sentinel := errors.New("still broken")
		calls := 0
		err := fast.Retry(context.Background(), func() error {
			calls++
			return sentinel
		})
		if !errors.Is(err, sentinel) || calls != 3 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("non-retryable stops immediately", func(t *testing.T) {
		p := fast
		p.Retryable = func(err error) bool { return false }
		calls := 0
		err := p.Retry(context.Background(), func() error {
			calls++
			return errors.New("permanent")
		})
		if err == nil || calls != 1 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("cancelled context aborts between attempts", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := p.Retry(ctx, func() error { return errors.New("flaky") })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("zero attempts treated as one", func(t *testing.T) {
		var p RetryPolicy
		calls := 0
		_ = p.Retry(context.Background(), func() error {
			calls++
			return errors.New("x")
		})
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative backoff %v", attempt, d)
		}
		// exponential component capped at MaxDelay, plus jitter < BaseDelay
		if d >= p.MaxDelay+p.BaseDelay {
			t.Errorf("attempt %d: backoff %v exceeds cap", attempt, d)
		}
	}
}
