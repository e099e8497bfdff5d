package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// maxExcerptBytes bounds error messages taken from response bodies.
const maxExcerptBytes = 256

// Request describes one call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Body is JSON-encoded when set.
	Body any

	// Upload is sent as-is and takes precedence over Body.
	Upload *Upload
}

// Upload is a pre-encoded payload.
type Upload struct {
	ContentType string
	Data        []byte
}

// NewMultipartUpload wraps data as a single-file multipart/form-data body.
func NewMultipartUpload(field, filename, contentType string, data []byte) (*Upload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename),
	}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("client: creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("client: writing multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("client: closing multipart body: %w", err)
	}

	return &Upload{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

// Response is a successful (2xx) response with its body fully read.
type Response struct {
	// RequestID is the daily quota id the request was admitted under.
	RequestID int

	StatusCode int
	Header     http.Header
	Body       []byte
}

// Validator is implemented by decoded payloads that check their own shape.
type Validator interface {
	Validate() error
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Message: errorMessage(body)}
}

// errorMessage pulls a message out of common JSON error envelopes, falling
// back to a bounded excerpt of the raw body.
func errorMessage(body []byte) string {
	var env struct {
		Message          string          `json:"message"`
		Error            json.RawMessage `json:"error"`
		HTTPMessage      string          `json:"httpMessage"`
		MoreInformation  string          `json:"moreInformation"`
		ErrorDescription string          `json:"error_description"`
	}
	if json.Unmarshal(body, &env) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case env.Message != "":
			return excerpt([]byte(env.Message))
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &flat) == nil && flat != "":
			if env.ErrorDescription != "" {
				return excerpt([]byte(flat + ": " + env.ErrorDescription))
			}
			return excerpt([]byte(flat))
		case len(env.Error) > 0 && json.Unmarshal(env.Error, &nested) == nil && nested.Message != "":
			return excerpt([]byte(nested.Message))
		case env.MoreInformation != "":
			return excerpt([]byte(env.MoreInformation))
		case env.HTTPMessage != "":
			return excerpt([]byte(env.HTTPMessage))
		}
	}
	return excerpt(body)
}

// excerpt trims body to at most maxExcerptBytes of valid UTF-8.
func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxExcerptBytes {
		return strings.ToValidUTF8(s, "")
	}
	cut := maxExcerptBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.ToValidUTF8(s[:cut], "") + "..."
}
