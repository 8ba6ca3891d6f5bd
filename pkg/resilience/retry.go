package resilience

import (
	"context"
	"time"
)

// Retry calls fn until it succeeds, the attempts are used up or ctx ends.
// delay(attempt) is waited after a failed attempt, before the next one.
func Retry(ctx context.Context, attempts int, delay func(attempt int) time.Duration, fn func(ctx context.Context, attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts || delay == nil {
			continue
		}
		if !SleepContext(ctx, delay(attempt)) {
			return lastErr
		}
	}
	return lastErr
}

// LinearDelay grows the wait by step on every attempt.
func LinearDelay(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// SleepContext waits for delay or exits early if context is canceled.
func SleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
