package driver

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrDatabaseNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryWithBackoff calls fn until it succeeds, the attempts run out, fn fails
// permanently, or ctx is done. Delays grow exponentially with ±25% jitter.
func retryWithBackoff[T any](ctx context.Context, attempts int, initial, maxDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := initial

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if permanent(err) || attempt == attempts-1 {
			break
		}

		actual := delay
		if jitter := int64(delay / 4); jitter > 0 {
			actual = delay - time.Duration(jitter) + time.Duration(rand.Int63n(2*jitter))
		}

		select {
		case <-time.After(actual):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return zero, lastErr
}
