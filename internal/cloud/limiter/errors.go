package limiter

import "errors"

// Configuration errors returned by New.
var (
	ErrNoID         = errors.New("limiter: id is required")
	ErrNoStore      = errors.New("limiter: store is required")
	ErrInvalidLimit = errors.New("limiter: daily limit must not be negative")
)
