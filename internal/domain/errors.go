package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransientFetch marks retryable upstream failures (timeouts, throttling, 5xx).
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrPermanentFetch marks failures that retrying cannot fix (auth, malformed request, not found).
	ErrPermanentFetch = errors.New("permanent fetch failure")

	// ErrFetchExhausted is returned once a transient failure outlived every retry attempt.
	ErrFetchExhausted = errors.New("fetch retries exhausted")

	// ErrValidationConfig is returned when a subject lacks the configuration needed to score items.
	ErrValidationConfig = errors.New("validation config error")

	// ErrCancelled is returned when a run is cancelled while suspended or between steps.
	ErrCancelled = errors.New("ingestion cancelled")

	// ErrSubjectNotFound is returned for unknown subject ids.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrFetcherNotFound is returned when no fetcher is registered for a platform.
	ErrFetcherNotFound = errors.New("fetcher not registered")
)

// FetchError describes a failed upstream call.
type FetchError struct {
	Platform   Platform
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s %s failure", e.Platform, kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps the error onto ErrTransientFetch or ErrPermanentFetch.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransientFetch:
		return e.Transient
	case ErrPermanentFetch:
		return !e.Transient
	default:
		return false
	}
}

// NewTransientError wraps err as a retryable fetch failure.
func NewTransientError(p Platform, op string, err error) *FetchError {
	return &FetchError{Platform: p, Op: op, Transient: true, Err: err}
}

// NewPermanentError wraps err as a non-retryable fetch failure.
func NewPermanentError(p Platform, op string, err error) *FetchError {
	return &FetchError{Platform: p, Op: op, Err: err}
}

// NewStatusError builds a FetchError from an HTTP status code.
func NewStatusError(p Platform, op string, code int) *FetchError {
	return &FetchError{
		Platform:   p,
		Op:         op,
		StatusCode: code,
		Transient:  TransientStatus(code),
		Err:        fmt.Errorf("unexpected status %d %s", code, http.StatusText(code)),
	}
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return code != http.StatusNotImplemented
	default:
		return false
	}
}

// Cancelled wraps a context error so that it matches ErrCancelled.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
