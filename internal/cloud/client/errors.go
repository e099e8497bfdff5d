package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimitExceeded is returned when the daily quota is exhausted.
	// No request was sent.
	ErrRateLimitExceeded = errors.New("client: daily request limit exceeded")

	// ErrAuthentication matches an *APIError with status 401 or 403.
	ErrAuthentication = errors.New("client: authentication rejected")

	// ErrTooManyRequests matches an *APIError with status 429.
	ErrTooManyRequests = errors.New("client: server rate limit hit")

	// ErrNoBaseURL is returned by New without a base URL.
	ErrNoBaseURL = errors.New("client: base URL is required")

	// ErrNoGate is returned by New without an auth gate.
	ErrNoGate = errors.New("client: auth gate is required")

	// ErrNoQuota is returned by New without a quota.
	ErrNoQuota = errors.New("client: quota is required")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int

	// Message is the provider's error text, or a bounded excerpt of the body.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: API error %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("client: API error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match the status-class sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrTooManyRequests:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// CommunicationError is a transport failure: timeout, DNS, TLS, reset.
// The request may or may not have reached the server.
type CommunicationError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *CommunicationError) Error() string {
	return fmt.Sprintf("client: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// DeserializationError is a 2xx body that did not match the expected shape.
type DeserializationError struct {
	// Target is the Go type the body was decoded into.
	Target string

	// Excerpt is the start of the offending body.
	Excerpt string

	Err error
}

// Error implements the error interface.
func (e *DeserializationError) Error() string {
	return fmt.Sprintf("client: decoding %s: %v", e.Target, e.Err)
}

// Unwrap returns the decode or validation error.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsAuthentication reports whether err is a 401/403 response.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsCommunication reports whether err is a transport failure.
func IsCommunication(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}
