package stream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
)

var (
	// ErrNoUpstream is returned by NewManager without an upstream client.
	ErrNoUpstream = errors.New("stream: upstream client is required")

	// ErrManagerClosed is returned by Connect after Close.
	ErrManagerClosed = errors.New("stream: manager closed")
)

// HandshakeError is a failed WebSocket upgrade.
type HandshakeError struct {
	// StatusCode is the HTTP status of the refused upgrade, or 0 when no
	// response arrived.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream: handshake failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stream: handshake failed: %v", e.Err)
}

// Unwrap returns the dial error.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Is matches client.ErrAuthentication for refused credentials.
func (e *HandshakeError) Is(target error) bool {
	return target == client.ErrAuthentication &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}
