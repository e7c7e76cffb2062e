package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is retried.
// attempt counts the attempts already made, starting at 1.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// FixedRetryPolicy retries timeouts with a constant pause.
type FixedRetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewFixedRetryPolicy returns the default policy: three attempts one
// second apart.
func NewFixedRetryPolicy() *FixedRetryPolicy {
	return &FixedRetryPolicy{MaxAttempts: 3, Delay: time.Second}
}

// ShouldRetry reports whether err is a timeout and budget remains.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && retryable(err)
}

// Backoff returns the fixed delay.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}

// ExponentialRetryPolicy retries timeouts with jittered exponential backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with the given budget and
// delay bounds. Zero values fall back to 3 attempts, 250ms and 5s.
func NewExponentialRetryPolicy(maxAttempts int, base, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxAttempts && retryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	// Per-attempt deadlines carry ErrTimeout. A bare deadline is the caller's.
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return false
	}
	return IsTimeout(err)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
