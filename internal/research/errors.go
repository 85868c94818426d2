package research

import (
	"context"
	"errors"
	"fmt"
)

// Capability failure taxonomy. Stage nodes wrap these sentinels so the
// engine can decide between retrying, rephrasing and failing the job.
var (
	// ErrProviderUnavailable marks a transient capability failure (network
	// error, 5xx, timeout). Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoResults marks a search that returned zero documents. The next
	// attempt rephrases the sub-query instead of repeating it.
	ErrNoResults = errors.New("no results")

	// ErrInsufficientData marks input that cannot support the stage (all
	// summaries empty, document with no content). Fatal.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrMalformedState marks a pipeline invariant violation (analyze
	// without summaries, compose without analysis). Fatal.
	ErrMalformedState = errors.New("malformed state")
)

// StageError records a stage failure after its retry budget is spent.
type StageError struct {
	Stage    Stage
	Input    string // sub-query or document URL being processed
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s %q failed after %d attempt(s): %v", e.Stage, e.Input, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether a capability error is worth another attempt.
// NoResults counts: the retry path switches to an alternate sub-query.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrNoResults)
}

// classifyProviderErr maps transport-level failures onto the taxonomy.
// Context expiry is a timeout and timeouts count as provider unavailability.
func classifyProviderErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrNoResults) ||
		errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrMalformedState) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
