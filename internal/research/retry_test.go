package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 3, time.Millisecond, func(attempt int) error {
		calls++
		if attempt < 2 {
			return fmt.Errorf("%w: flaky", ErrProviderUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("expected 2 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 3, time.Millisecond, func(int) error {
		calls++
		return fmt.Errorf("%w: still down", ErrProviderUnavailable)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected the full budget, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 3, time.Millisecond, func(int) error {
		calls++
		return fmt.Errorf("%w: nothing to work with", ErrInsufficientData)
	})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected the fatal error back, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("fatal errors must not retry, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := withRetry(ctx, 5, time.Minute, func(int) error {
		calls++
		cancel()
		return fmt.Errorf("%w: down", ErrProviderUnavailable)
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable from context expiry, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("cancelled context must stop the backoff wait, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestWithRetryZeroBudget(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 0, time.Millisecond, func(int) error {
		calls++
		return nil
	})
	if err != nil || attempts != 1 || calls != 1 {
		t.Fatalf("zero budget should mean one attempt, got attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}
