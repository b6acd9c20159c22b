package modelwire

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how often and how long a transient failure is retried.
type RetryPolicy struct {
	MaxRetries        int     // re-attempts after the initial call
	BaseDelay         float64 // first backoff, in seconds
	MaxDelay          float64 // ceiling for any single wait, in seconds
	BackoffMultiplier float64 // growth factor between attempts
	Jitter            bool    // randomize waits to avoid synchronized retries
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the backoff before re-attempt n (0-indexed): BaseDelay times
// BackoffMultiplier^n, capped at MaxDelay. Jitter spreads the result over
// [50%, 150%].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	seconds := p.BaseDelay * math.Pow(p.BackoffMultiplier, float64(attempt))
	if seconds > p.MaxDelay {
		seconds = p.MaxDelay
	}
	if p.Jitter {
		seconds *= 0.5 + rand.Float64()
	}
	return time.Duration(seconds * float64(time.Second))
}

// nextDelay picks the wait before re-attempt n. A server-provided Retry-After
// wins over backoff; one past MaxDelay asks for a longer pause than the
// policy allows, so the error surfaces instead of waiting.
func (p RetryPolicy) nextDelay(attempt int, err error) (time.Duration, bool) {
	maxWait := time.Duration(p.MaxDelay * float64(time.Second))
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		wait := time.Duration(*rl.RetryAfter * float64(time.Second))
		if wait > maxWait {
			return 0, false
		}
		return wait, true
	}
	return p.Delay(attempt), true
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. The initial call is free; MaxRetries counts the
// re-attempts after it. Cancellation while waiting returns an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		wait, ok := policy.nextDelay(attempt, err)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{WireError: WireError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
