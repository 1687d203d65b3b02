package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/api/googleapi"

	caseerrors "github.com/GilMM/caseflow/internal/errors"
)

// retryable reports whether a provider error is worth another attempt.
// Rate limits, server errors and transport failures are transient; other
// client errors and an expired cursor are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if caseerrors.Is(err, caseerrors.ErrCursorExpired) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn up to attempts+1 times with a linearly growing delay
// between attempts. Each attempt gets its own timeout. Non-retryable
// errors and context cancellation stop immediately.
func withRetry(ctx context.Context, attempts int, backoff, perAttempt time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts+1, lastErr)
}
