package metoffice

import "errors"

var (
	// ErrNoAPIKey is returned when an account is created without a key.
	ErrNoAPIKey = errors.New("metoffice: api key is required")

	// ErrInvalidLocation is returned when a site location cannot be parsed
	// or lies outside the supported range.
	ErrInvalidLocation = errors.New("metoffice: invalid location")

	// ErrUnknownKind is returned for a forecast kind other than hourly or daily.
	ErrUnknownKind = errors.New("metoffice: unknown forecast kind")

	// ErrUnknownSite is returned when a poll names a site that is not registered.
	ErrUnknownSite = errors.New("metoffice: unknown site")

	// ErrDuplicateSite is returned when a site id is registered twice.
	ErrDuplicateSite = errors.New("metoffice: site already registered")

	// ErrInvalidPollRate is returned for a poll rate outside 1-24 hours.
	ErrInvalidPollRate = errors.New("metoffice: poll rate must be between 1 and 24 hours")

	// ErrEmptyForecast is returned when a response carries no time series.
	ErrEmptyForecast = errors.New("metoffice: forecast has no time series")
)
