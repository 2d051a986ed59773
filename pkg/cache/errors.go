package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a key with no stored entry.
	ErrNotFound = errors.New("not found")

	// ErrNetwork marks a Redis or MongoDB call that failed in transit
	// (dropped connection, timeout) and may be repeated.
	ErrNetwork = errors.New("backend unreachable")
)

// retryDelay is the first backoff interval. Tests shorten it.
var retryDelay = time.Second

// retryAttempts bounds RetryWithBackoff, first call included.
const retryAttempts = 3

// RetryableError marks a backend failure worth repeating.
type RetryableError struct{ Err error }

// Retryable marks err for RetryWithBackoff. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryWithBackoff calls fn until it succeeds, returns an unmarked error, or
// has been tried retryAttempts times. The wait doubles after each attempt
// and is cut short by ctx. The Redis cache and the MongoDB sink use it
// around every round trip.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	delay := retryDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) || attempt == retryAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
}
