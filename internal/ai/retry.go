package ai

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

// ErrGenerationTimeout is returned when the model does not answer within
// the configured generation deadline.
var ErrGenerationTimeout = errors.New("ai: generation timed out")

// retryable reports whether an external call is worth retrying. Client
// errors other than 429 are not, and neither is an open circuit breaker:
// retrying against an open breaker only delays recovery.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 {
			return true
		}
		if gerr.Code >= 400 && gerr.Code < 500 {
			return false
		}
	}
	return true
}

// withRetry runs fn up to attempts times with exponential backoff, starting
// at base. It stops early on non-retryable errors and on context cancellation.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}
		backoff := base << uint(i)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
