package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// BackoffFunc returns the wait before the next attempt, given the attempt that
// just failed (1-based) and its error.
type BackoffFunc func(attempt int, err error) time.Duration

// Policy is a bounded retry with per-attempt timeouts.
type Policy struct {
	// MaxAttempts includes the first attempt. Default: 3
	MaxAttempts int

	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration

	// Backoff computes the wait between attempts. Default: Linear(1s)
	Backoff BackoffFunc
}

// Linear waits attempt x base, doubled when the failed attempt timed out.
func Linear(base time.Duration) BackoffFunc {
	return func(attempt int, err error) time.Duration {
		wait := time.Duration(attempt) * base
		if IsTimeout(err) {
			wait *= 2
		}
		return wait
	}
}

// NewPolicy returns the policy used for remote messaging calls.
func NewPolicy(maxAttempts int, base, attemptTimeout time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		AttemptTimeout: attemptTimeout,
		Backoff:        Linear(base),
	}
}

// IsTimeout classifies errors caused by an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Do runs fn until it succeeds, the attempts run out, or ctx is done.
// It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear(time.Second)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = p.attempt(ctx, attempt, fn)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff(attempt, lastErr)):
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

func (p Policy) attempt(ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := fn(attemptCtx, attempt)
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil && !IsTimeout(err) {
		// The call ignored its deadline and reported something else.
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
