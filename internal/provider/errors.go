package provider

import (
	"errors"
	"fmt"
	"strings"
)

// AbortedError ends a stream that was cancelled rather than failed.
type AbortedError struct {
	Reason string
	Err    error
}

func (e *AbortedError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "aborted"
	}
	if e.Err == nil {
		return reason
	}
	return fmt.Sprintf("%s: %v", reason, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// NewAbortedError wraps err with a trimmed reason.
func NewAbortedError(reason string, err error) error {
	return &AbortedError{Reason: strings.TrimSpace(reason), Err: err}
}

// IsAbortedError reports whether err wraps an *AbortedError.
func IsAbortedError(err error) bool {
	var target *AbortedError
	return errors.As(err, &target)
}

// RetryExhaustedError is returned once every attempt failed with a
// retryable error.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("retry_exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("retry_exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhaustedError reports whether err wraps a *RetryExhaustedError.
func IsRetryExhaustedError(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}

// HTTPError is a non-success response from the backend.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ollama_http_%d: %s", e.Status, e.Body)
}
