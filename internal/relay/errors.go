package relay

import "errors"

var (
	// ErrNoPublisher is returned by New without a publisher.
	ErrNoPublisher = errors.New("relay: publisher is required")

	// ErrUnknownSource is returned for a poll command naming no registered binding.
	ErrUnknownSource = errors.New("relay: unknown source")

	// ErrDuplicateSource is returned when two pollers share a source name.
	ErrDuplicateSource = errors.New("relay: duplicate source")

	// ErrRouterStopped is returned for a poll command that arrives after Stop.
	ErrRouterStopped = errors.New("relay: router stopped")

	// ErrInvalidCommand is returned for a malformed poll command payload.
	ErrInvalidCommand = errors.New("relay: invalid poll command")
)
