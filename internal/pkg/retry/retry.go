package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs op up to attempts times, sleeping between tries with exponential
// backoff starting at backoff and doubling each round. It stops early when
// the context is done and returns the last error otherwise.
func Do(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	return DoIf(ctx, attempts, backoff, nil, op)
}

// DoIf is Do with a retryable predicate: an error for which retryable
// returns false is returned immediately instead of burning the remaining
// attempts. A nil predicate retries every error.
func DoIf(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	wait := backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return fmt.Errorf("permanent after %d attempts: %w", attempt, lastErr)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
