package adapter

import (
	"context"
	"fmt"
	"time"
)

// publishBackoff is the delay before the first re-attempt; each further
// re-attempt doubles it.
const publishBackoff = 500 * time.Millisecond

// Retry runs publish up to 1+retries times with exponential backoff between
// attempts. An error the permanent classifier accepts stops the loop at once;
// a nil classifier treats every failure as retriable. Cancellation wins over
// both the backoff and the next attempt.
func Retry(ctx context.Context, retries int, permanent func(error) bool, publish func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	attempts := 1 + retries
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled: %w", err)
		}
		lastErr = publish(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return lastErr
		}
		if n < attempts {
			if err := sleep(ctx, publishBackoff<<(n-1)); err != nil {
				return fmt.Errorf("canceled during backoff: %w", err)
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
