package database

import "errors"

// Domain errors for the database package.
var (
	// ErrNoPath is returned when Open is called without a file path.
	ErrNoPath = errors.New("database: path is required")

	// ErrBadMigrationName is returned for .sql files that don't follow
	// the YYYYMMDD_HHMMSS_description.up.sql convention.
	ErrBadMigrationName = errors.New("database: malformed migration filename")
)
