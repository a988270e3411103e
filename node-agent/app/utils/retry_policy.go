package utils

import (
	"context"
	"math"
	"time"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts int // 0 retries forever
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// DefaultRetryPolicy returns a default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 20,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// CalculateDelay returns the wait after the given number of failed attempts: BaseDelay doubled per attempt, capped at MaxDelay
func (r *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := math.Pow(2, float64(attempt))
	if factor > float64(r.MaxDelay/maxDuration(r.BaseDelay, 1)) {
		return r.MaxDelay
	}
	delay := time.Duration(factor) * r.BaseDelay
	if delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempts have used up the policy
func (r *RetryPolicy) Exhausted(attempts int) bool {
	return r.MaxAttempts > 0 && attempts >= r.MaxAttempts
}

// Execute runs fn until it succeeds, the policy is exhausted, or ctx is done
func (r *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if r.Exhausted(attempt + 1) {
			return lastErr
		}

		timer := time.NewTimer(r.CalculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
