package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// Policy configures Retry.
type Policy struct {
	MaxRetries int
	Retryable  func(error) bool
	Backoff    func(attempt int) time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	OnRetry    func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy retries service-unavailable responses with 1s, 2s, 4s... delays.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries: maxRetries,
		Retryable:  IsUnavailable,
		Backoff:    ExponentialBackoff(time.Second),
		Sleep:      SleepContext,
	}
}

// ExponentialBackoff returns base * 2^attempt.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(math.Pow(2, float64(attempt))) * base
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op up to MaxRetries+1 times. Only errors accepted by Retryable are
// retried; anything else is returned immediately.
func Retry[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt >= maxRetries {
			if attempt == 0 {
				return zero, err
			}
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, errors.Join(err, sleepErr)
		}
	}
}
