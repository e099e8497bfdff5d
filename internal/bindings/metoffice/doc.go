// Package metoffice polls the Met Office DataHub site-specific forecast API.
//
// An Account owns the API key, the daily request limiter and the throttled
// client shared by every Site registered on it. Each Site polls the hourly
// and daily point forecasts for one location on a schedule aligned to UTC
// midnight, caches the last response of each kind and publishes it as a
// notify.ResponseEvent.
//
// Polling schedule:
//
//	hourly_poll_rate: 1   -> 00:00, 01:00, 02:00 ...
//	daily_poll_rate:  3   -> 00:00, 03:00, 06:00 ...
//
// Each poll is offset by a small random jitter so many installations do not
// hit the API in the same second. On start a Site polls at once only when
// the cached response predates the most recent boundary; otherwise the
// cached response is re-published.
package metoffice
