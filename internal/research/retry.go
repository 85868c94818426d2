package research

import (
	"context"
	"time"
)

// withRetry runs op up to attempts times, backing off exponentially between
// tries. Only retryable errors are retried. The attempt number passed to op
// is 1-based; the count of attempts actually made is returned with the last
// error.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op func(attempt int) error) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(attempt)
		if err == nil {
			return attempt, nil
		}
		if !Retryable(err) || attempt == attempts {
			return attempt, err
		}
		select {
		case <-time.After(backoff * time.Duration(1<<(attempt-1))):
		case <-ctx.Done():
			return attempt, classifyProviderErr(ctx.Err())
		}
	}
	return attempts, err
}
