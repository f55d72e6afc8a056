package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is returned by [Retry] when every attempt failed.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// Permanent marks err as not worth retrying. [Retry] returns it, unwrapped,
// as soon as fn reports it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// RetryPolicy bounds a [Retry] loop.
type RetryPolicy struct {
	// Attempts is the maximum number of calls. Values below 1 mean 1.
	Attempts int

	// Delay returns how long to wait before the given attempt (1-based).
	// A nil Delay retries immediately.
	Delay func(attempt int) time.Duration

	// WaitFirst also waits Delay(1) before the first attempt.
	WaitFirst bool

	// OnRetry, if set, is called after each failed attempt that will be
	// retried.
	OnRetry func(attempt int, err error)
}

// ExponentialBackoff returns a delay function producing
// min(base * factor^(attempt-1), max).
func ExponentialBackoff(base time.Duration, factor float64, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
		if max > 0 && (d > max || d < 0) {
			return max
		}
		return d
	}
}

// Retry calls fn until it returns nil, the policy's attempts are used up, or
// ctx is done. The attempt number passed to fn is 1-based.
//
// On exhaustion the returned error wraps both [ErrRetriesExhausted] and the
// last error from fn. On cancellation it returns ctx.Err().
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 || p.WaitFirst {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt < attempts && p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Delay == nil {
		return 0
	}
	return p.Delay(attempt)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
