package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures into the closed router error set.
type ErrorKind string

const (
	// ErrKindTransient covers transport errors and 5xx replies; retried
	// with backoff.
	ErrKindTransient ErrorKind = "provider_transient"
	// ErrKindRateLimited is an explicit 429; retried honoring the
	// backoff hint when the provider supplies one.
	ErrKindRateLimited ErrorKind = "provider_rate_limited"
	// ErrKindMalformedRequest is a non-429 4xx; never retried.
	ErrKindMalformedRequest ErrorKind = "provider_malformed_request"
	// ErrKindContextLength is a context-window overflow; never retried.
	ErrKindContextLength ErrorKind = "provider_context_length"
)

// ErrProviderExhausted is returned when every pair in a tier's fallback
// chain has been exhausted.
var ErrProviderExhausted = errors.New("provider_exhausted")

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	// RetryAfter carries the provider's backoff hint for rate limits.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the attempt may be retried on the same pair.
func (e *Error) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindRateLimited
}

// NewError creates a classified provider error.
func NewError(kind ErrorKind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: err}
}

// AsError extracts a classified *Error, or wraps err as transient when the
// provider returned something unclassified (network failures surface as
// plain errors from net/http).
func AsError(provider string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return NewError(ErrKindTransient, provider, err.Error(), err)
}
