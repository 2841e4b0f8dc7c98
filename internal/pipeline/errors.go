package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrCheckpointNotFound means conversion has not produced a checkpoint yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRendererUnavailable aborts the run: no slide can ever be rendered.
	ErrRendererUnavailable = errors.New("renderer unavailable")
)

// RetryableError marks a transient failure the retry policy may try again.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure no retry will fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable classifies err. Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pErr *PermanentError
	if errors.As(err, &pErr) {
		return false
	}
	var rErr *RetryableError
	if errors.As(err, &rErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
