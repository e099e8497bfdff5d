package client

import (
	"net/http"
	"time"
)

// LoggingTransport wraps an http.RoundTripper and logs each exchange.
// Query strings are left out of the log; credentials travel in headers
// and are never logged.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

// RoundTrip implements http.RoundTripper with logging.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	duration := time.Since(start)

	if t.Logger == nil {
		return resp, err
	}

	if err != nil {
		t.Logger.Debug("api_error",
			"method", req.Method,
			"path", req.URL.Path,
			"duration", duration,
			"error", err,
		)
		return resp, err
	}

	args := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", duration,
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		t.Logger.Error("api_response", args...)
	case resp.StatusCode >= http.StatusBadRequest:
		t.Logger.Warn("api_response", args...)
	default:
		t.Logger.Debug("api_response", args...)
	}
	return resp, err
}
