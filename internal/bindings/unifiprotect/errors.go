package unifiprotect

import "errors"

var (
	// ErrNoHost is returned when neither Host nor BaseURL is configured.
	ErrNoHost = errors.New("unifiprotect: host is required")

	// ErrNoAPIKey is returned when the client is created without a key.
	ErrNoAPIKey = errors.New("unifiprotect: api key is required")

	// ErrUnknownKind is returned by PollCommand for an unsupported kind.
	ErrUnknownKind = errors.New("unifiprotect: unknown poll kind")

	// ErrNoCameraID is returned when a camera call is made without an id.
	ErrNoCameraID = errors.New("unifiprotect: camera id is required")

	// ErrEmptyPatch is returned when a patch has no fields.
	ErrEmptyPatch = errors.New("unifiprotect: patch is empty")
)
