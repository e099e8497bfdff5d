package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/auth"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
)

const (
	// DefaultTimeout bounds each request when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRequestsPerSecond applies when Config.MaxRequestsPerSecond is zero.
	DefaultMaxRequestsPerSecond = 10

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 10 << 20

	throttleSpan = time.Second
)

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Quota grants daily request slots. *limiter.Limiter implements it.
type Quota interface {
	Acquire() (int, bool)
}

// Notifier receives client events. *notify.Registry implements it.
type Notifier interface {
	Notify(ev notify.Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(notify.Event) {}

// Config configures a Client.
type Config struct {
	// Source names the binding in events and logs, e.g. "datahub".
	Source string

	// BaseURL is prefixed to every request path.
	BaseURL string

	Timeout              time.Duration
	MaxRequestsPerSecond int
	UserAgent            string

	Quota    Quota
	Gate     *auth.Gate
	Notifier Notifier

	// HTTPClient overrides the default transport, e.g. for self-signed
	// certificates. Its Timeout is replaced by Config.Timeout.
	HTTPClient *http.Client

	Logger Logger
}

type linkState int

const (
	linkUnknown linkState = iota
	linkUp
	linkDown
)

// Client sends throttled, authenticated requests.
//
// All methods are safe for concurrent use.
type Client struct {
	source    string
	baseURL   string
	userAgent string
	http      *http.Client
	quota     Quota
	gate      *auth.Gate
	notifier  Notifier
	logger    Logger

	// turn serialises admission; blocked senders are queued FIFO.
	turn   chan struct{}
	window *window

	linkMu sync.Mutex
	link   linkState
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.Gate == nil {
		return nil, ErrNoGate
	}
	if cfg.Quota == nil {
		return nil, ErrNoQuota
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultMaxRequestsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "graylogic-cloudlink"
	}

	c := &Client{
		source:    cfg.Source,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		quota:     cfg.Quota,
		gate:      cfg.Gate,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		turn:      make(chan struct{}, 1),
		window:    newWindow(cfg.MaxRequestsPerSecond, throttleSpan, time.Now),
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http = &http.Client{
		Timeout:       cfg.Timeout,
		Transport:     &LoggingTransport{Base: base, Logger: c.logger},
		CheckRedirect: httpClient.CheckRedirect,
		Jar:           httpClient.Jar,
	}

	return c, nil
}

// Source returns the binding name.
func (c *Client) Source() string {
	return c.source
}

// BaseURL returns the URL every request path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Gate returns the auth gate the client decorates requests with.
func (c *Client) Gate() *auth.Gate {
	return c.gate
}

// Pending returns how many requests were admitted in the last second.
func (c *Client) Pending() int {
	return c.window.pending()
}

// Admit takes a daily quota slot and then waits for the sliding window.
// Callers are admitted in call order.
//
// Returns:
//   - int: The quota request id
//   - error: ErrRateLimitExceeded, or ctx.Err() while queued
func (c *Client) Admit(ctx context.Context) (int, error) {
	select {
	case c.turn <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-c.turn }()

	id, ok := c.quota.Acquire()
	if !ok {
		c.logger.Warn("daily request limit reached", "source", c.source)
		return id, ErrRateLimitExceeded
	}

	if err := c.window.admit(ctx); err != nil {
		// The quota slot stays spent.
		return id, err
	}
	return id, nil
}

// Do sends r and classifies the result.
//
// Returns:
//   - *Response: The 2xx response
//   - error: ErrRateLimitExceeded, auth.ErrNoCredential, *APIError,
//     *CommunicationError or a request construction error
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	// A missing credential is a local error; don't spend quota on it.
	if err := c.gate.Decorate(req); err != nil {
		return nil, err
	}

	id, err := c.Admit(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, fmt.Errorf("client: request cancelled: %w", err)
		}
		return nil, c.communicationFailure(req, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.communicationFailure(req, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.markServerDown()
	} else {
		c.markUp()
	}
	c.observe(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, body)
		if !errors.Is(apiErr, ErrAuthentication) {
			c.logger.Warn("provider returned an error", "source", c.source, "status", resp.StatusCode, "error", apiErr)
			c.notifier.Notify(notify.APIErrorEvent{Source: c.source, StatusCode: resp.StatusCode, Err: apiErr})
		}
		return nil, apiErr
	}

	return &Response{
		RequestID:  id,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Get sends a GET for path with the given query.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// GetJSON sends a GET and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v any) (*Response, error) {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if err := c.Decode(resp, v); err != nil {
		return resp, err
	}
	return resp, nil
}

// Upload sends a binary or multipart payload without JSON encoding.
func (c *Client) Upload(ctx context.Context, method, path string, up *Upload) (*Response, error) {
	return c.Do(ctx, Request{Method: method, Path: path, Upload: up})
}

// Decode unmarshals resp into v and runs v.Validate when v implements
// Validator. Failures are logged at warn, reported as an APIErrorEvent and
// returned as *DeserializationError.
func (c *Client) Decode(resp *Response, v any) error {
	err := json.Unmarshal(resp.Body, v)
	if err == nil {
		if val, ok := v.(Validator); ok {
			err = val.Validate()
		}
	}
	if err == nil {
		return nil
	}

	de := &DeserializationError{
		Target:  fmt.Sprintf("%T", v),
		Excerpt: excerpt(resp.Body),
		Err:     err,
	}
	c.logger.Warn("response did not match expected shape",
		"source", c.source,
		"target", de.Target,
		"error", err,
	)
	c.notifier.Notify(notify.APIErrorEvent{Source: c.source, StatusCode: resp.StatusCode, Err: de})
	return de
}

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.Upload != nil:
		body = bytes.NewReader(r.Upload.Data)
		contentType = r.Upload.ContentType
	case r.Body != nil:
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("client: encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.userAgent)

	return req, nil
}

func (c *Client) observe(status int) {
	authenticated, changed := c.gate.Observe(status)
	if !changed {
		return
	}
	if authenticated {
		c.logger.Info("credential accepted", "source", c.source)
	} else {
		c.logger.Warn("credential rejected", "source", c.source, "status", status)
	}
	c.notifier.Notify(notify.AuthEvent{Source: c.source, Authenticated: authenticated})
}

func (c *Client) communicationFailure(req *http.Request, err error) error {
	ce := &CommunicationError{Method: req.Method, URL: redactQuery(req.URL), Err: err}

	c.linkMu.Lock()
	c.link = linkDown
	c.linkMu.Unlock()

	c.logger.Warn("request failed", "source", c.source, "error", ce)
	c.notifier.Notify(notify.CommunicationFailureEvent{Source: c.source, Err: ce})
	return ce
}

// markUp reports a ConnectedEvent when the first exchange succeeds or when
// one succeeds after a failure.
func (c *Client) markUp() {
	c.linkMu.Lock()
	prev := c.link
	c.link = linkUp
	c.linkMu.Unlock()

	if prev != linkUp {
		c.notifier.Notify(notify.ConnectedEvent{Source: c.source})
	}
}

// markServerDown records a 5xx so the next successful request reports
// ConnectedEvent. The APIErrorEvent sent by Do carries the failure.
func (c *Client) markServerDown() {
	c.linkMu.Lock()
	c.link = linkDown
	c.linkMu.Unlock()
}

// MarkDown records a transport failure seen outside Do, such as a dropped
// event stream, so the next successful request reports ConnectedEvent.
func (c *Client) MarkDown(err error) {
	c.linkMu.Lock()
	c.link = linkDown
	c.linkMu.Unlock()
	c.notifier.Notify(notify.CommunicationFailureEvent{Source: c.source, Err: err})
}

// ObserveStatus feeds a status seen outside Do, such as a WebSocket
// handshake, through the same auth and link tracking.
// Only 2xx/3xx and credential refusals count as the provider being up;
// callers report other refusals through MarkDown.
func (c *Client) ObserveStatus(status int) {
	if status < http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.markUp()
	}
	c.observe(status)
}

func redactQuery(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	return clean.String()
}

// CredentialHeader writes the credential into h for callers that build
// their own requests, such as WebSocket dials.
func (c *Client) CredentialHeader(h http.Header) error {
	return c.gate.Apply(h)
}
