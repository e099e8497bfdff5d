package unifiprotect

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/auth"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/stream"
	"github.com/nerrad567/gray-logic-cloudlink/internal/kvstore"
)

const (
	// DefaultSource names the binding in events, topics and limiter keys.
	DefaultSource = "protect"

	// DefaultReconnectDelay is the pause before re-subscribing.
	DefaultReconnectDelay = 10 * time.Second

	apiKeyHeader = "X-API-KEY"
	basePath     = "/proxy/protect/integration/v1"
)

// Subscription channels.
const (
	ChannelEvents  = "events"
	ChannelDevices = "devices"
)

// Poll kinds accepted by PollCommand.
const (
	KindCameras = "cameras"
	KindInfo    = "info"
)

// Logger defines the logging interface used by the binding.
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

// Config configures a Client.
type Config struct {
	// Source defaults to DefaultSource.
	Source string

	// Host is the NVR address; the API root is derived from it.
	Host string

	// BaseURL overrides the root derived from Host.
	BaseURL string

	APIKey            string
	DailyLimit        int
	RequestsPerSecond int
	Timeout           time.Duration

	// HeartbeatInterval is the WebSocket ping interval.
	HeartbeatInterval time.Duration

	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// TLSSkipVerify accepts the NVR's self-signed certificate.
	TLSSkipVerify bool

	// Store persists the daily budget. Required.
	Store kvstore.Store

	Notifier client.Notifier
	Logger   Logger
}

// Client is a UniFi Protect integration API client.
//
// All methods are safe for concurrent use.
type Client struct {
	source         string
	reconnectDelay time.Duration
	notifier       client.Notifier
	logger         Logger

	limiter *limiter.Limiter
	api     *client.Client
	streams *stream.Manager

	pollID atomic.Int64

	mu      sync.RWMutex
	cameras map[string]Camera
}

// New validates the configuration and builds the limiter, gate, HTTP
// client and stream manager.
//
// Parameters:
//   - cfg: Client configuration; Host (or BaseURL), APIKey and Store are required
//
// Returns:
//   - *Client: Ready client; call Run to keep the subscriptions open
//   - error: ErrNoHost, ErrNoAPIKey, or a construction error
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		if cfg.Host == "" {
			return nil, ErrNoHost
		}
		cfg.BaseURL = "https://" + cfg.Host + basePath
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	c := &Client{
		source:         cfg.Source,
		reconnectDelay: cfg.ReconnectDelay,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
		cameras:        make(map[string]Camera),
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	gate := auth.New(auth.Config{Header: apiKeyHeader, Validator: auth.KeyValidator})
	if err := gate.SetCredential(cfg.APIKey); err != nil {
		return nil, err
	}

	lim, err := limiter.New(limiter.Config{
		ID:         c.source + "_api",
		DailyLimit: cfg.DailyLimit,
		Store:      cfg.Store,
		OnUpdate:   c.budgetChanged,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("unifiprotect: creating limiter: %w", err)
	}
	c.limiter = lim

	var tlsConfig *tls.Config
	if cfg.TLSSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // NVRs ship self-signed certificates
	}

	api, err := client.New(client.Config{
		Source:               c.source,
		BaseURL:              cfg.BaseURL,
		Timeout:              cfg.Timeout,
		MaxRequestsPerSecond: cfg.RequestsPerSecond,
		Quota:                lim,
		Gate:                 gate,
		Notifier:             cfg.Notifier,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     tlsConfig,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Logger: c.logger,
	})
	if err != nil {
		lim.Close() //nolint:errcheck // construction already failed
		return nil, fmt.Errorf("unifiprotect: creating client: %w", err)
	}
	c.api = api

	streams, err := stream.NewManager(stream.Config{
		Upstream:        api,
		Heartbeat:       cfg.HeartbeatInterval,
		TLSClientConfig: tlsConfig,
		Logger:          c.logger,
	})
	if err != nil {
		lim.Close() //nolint:errcheck // construction already failed
		return nil, fmt.Errorf("unifiprotect: creating stream manager: %w", err)
	}
	c.streams = streams

	return c, nil
}

// Source returns the binding name.
func (c *Client) Source() string {
	return c.source
}

// Limiter returns the daily budget.
func (c *Client) Limiter() *limiter.Limiter {
	return c.limiter
}

// API returns the underlying throttled client.
func (c *Client) API() *client.Client {
	return c.api
}

// Info returns the NVR application metadata.
func (c *Client) Info(ctx context.Context) (*Meta, error) {
	var m Meta
	if _, err := c.api.GetJSON(ctx, "/meta/info", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Cameras lists every camera and refreshes the local cache.
func (c *Client) Cameras(ctx context.Context) ([]Camera, error) {
	var list CameraList
	if _, err := c.api.GetJSON(ctx, "/cameras", nil, &list); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cameras = make(map[string]Camera, len(list))
	for _, cam := range list {
		c.cameras[cam.ID] = cam
	}
	c.mu.Unlock()
	return list, nil
}

// Camera fetches one camera.
func (c *Client) Camera(ctx context.Context, id string) (*Camera, error) {
	if id == "" {
		return nil, ErrNoCameraID
	}
	var cam Camera
	if _, err := c.api.GetJSON(ctx, "/cameras/"+url.PathEscape(id), nil, &cam); err != nil {
		return nil, err
	}
	c.remember(cam)
	return &cam, nil
}

// CachedCamera returns the camera from the last list or fetch.
func (c *Client) CachedCamera(id string) (Camera, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cam, ok := c.cameras[id]
	return cam, ok
}

// PatchCamera applies a partial update, typically built with BuildPatch,
// and returns the updated camera.
func (c *Client) PatchCamera(ctx context.Context, id string, patch map[string]any) (*Camera, error) {
	if id == "" {
		return nil, ErrNoCameraID
	}
	if len(patch) == 0 {
		return nil, ErrEmptyPatch
	}

	resp, err := c.api.Do(ctx, client.Request{
		Method: http.MethodPatch,
		Path:   "/cameras/" + url.PathEscape(id),
		Body:   patch,
	})
	if err != nil {
		return nil, err
	}

	var cam Camera
	if err := c.api.Decode(resp, &cam); err != nil {
		return nil, err
	}
	c.remember(cam)
	return &cam, nil
}

// Snapshot returns a JPEG from the camera.
func (c *Client) Snapshot(ctx context.Context, id string, highQuality bool) ([]byte, error) {
	if id == "" {
		return nil, ErrNoCameraID
	}
	resp, err := c.api.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/cameras/" + url.PathEscape(id) + "/snapshot",
		Query:  url.Values{"highQuality": {strconv.FormatBool(highQuality)}},
		Header: http.Header{"Accept": {"image/jpeg"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// StartPatrol starts PTZ patrol slot on the camera.
func (c *Client) StartPatrol(ctx context.Context, id string, slot int) error {
	if id == "" {
		return ErrNoCameraID
	}
	_, err := c.api.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/cameras/" + url.PathEscape(id) + "/ptz/patrol/start/" + strconv.Itoa(slot),
	})
	return err
}

// StopPatrol stops any running PTZ patrol.
func (c *Client) StopPatrol(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoCameraID
	}
	_, err := c.api.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/cameras/" + url.PathEscape(id) + "/ptz/patrol/stop",
	})
	return err
}

// UploadFile stores a device asset (e.g. a doorbell animation) on the NVR.
func (c *Client) UploadFile(ctx context.Context, fileType, filename, contentType string, data []byte) (*Asset, error) {
	up, err := client.NewMultipartUpload("file", filename, contentType, data)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Upload(ctx, http.MethodPost, "/files/"+url.PathEscape(fileType), up)
	if err != nil {
		return nil, err
	}
	var asset Asset
	if err := c.api.Decode(resp, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// PollCommand refreshes kind and publishes the result as a ResponseEvent.
// KindCameras with a subject fetches that camera only.
func (c *Client) PollCommand(ctx context.Context, subject, kind string) error {
	var (
		content any
		err     error
	)
	switch kind {
	case KindCameras:
		if subject != "" {
			content, err = c.Camera(ctx, subject)
		} else {
			content, err = c.Cameras(ctx)
		}
	case KindInfo:
		content, err = c.Info(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return err
	}

	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("unifiprotect: encoding %s: %w", kind, err)
	}
	if subject == "" {
		subject = "nvr"
	}
	c.notify(notify.ResponseEvent{
		Source:  c.source,
		Subject: subject,
		Kind:    kind,
		PollID:  c.pollID.Add(1),
		Content: data,
	})
	return nil
}

// Run keeps both subscriptions open until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, channel := range []string{ChannelEvents, ChannelDevices} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.maintain(ctx, channel)
		}()
	}
	wg.Wait()
	return nil
}

// Close closes the subscriptions and flushes the limiter.
func (c *Client) Close() error {
	c.streams.Close()
	return c.limiter.Close()
}

// maintain subscribes to channel and re-subscribes after every drop.
func (c *Client) maintain(ctx context.Context, channel string) {
	path := "/subscribe/" + channel
	for {
		sess, err := c.streams.Connect(ctx, path, c.handlers(channel))
		delay := c.reconnectDelay
		switch {
		case err == nil:
			select {
			case <-sess.Done():
				c.logger.Info("subscription ended, reconnecting", "channel", channel, "delay", delay)
			case <-ctx.Done():
				sess.Close()
				return
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, client.ErrRateLimitExceeded):
			delay = time.Until(limiter.NextMidnight(time.Now()))
			c.logger.Warn("subscription paused until budget reset", "channel", channel, "delay", delay)
		case errors.Is(err, stream.ErrManagerClosed):
			return
		default:
			c.logger.Warn("subscribe failed", "channel", channel, "error", err, "delay", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) handlers(channel string) stream.Handlers {
	forward := func(msg stream.Message) {
		if channel == ChannelEvents {
			if ev, err := ParseEvent(msg.Item); err == nil {
				c.logger.Debug("protect event", "action", msg.Type, "type", ev.Type, "device", ev.Device)
			}
		}
		c.notify(notify.StreamEvent{
			Source:  c.source,
			Channel: channel,
			Action:  msg.Type,
			Payload: msg.Item,
		})
	}
	return stream.Handlers{
		OnAdd:    forward,
		OnUpdate: forward,
		OnRemove: forward,
		OnClose: func(code int, reason string) {
			if reason == stream.CloseReasonLocal {
				c.logger.Debug("subscription closed", "channel", channel)
				return
			}
			c.logger.Warn("subscription closed by NVR", "channel", channel, "code", code, "reason", reason)
			c.api.MarkDown(fmt.Errorf("unifiprotect: %s subscription closed (%d %s)", channel, code, reason))
		},
		OnError: func(err error) {
			c.logger.Warn("subscription error", "channel", channel, "error", err)
			c.api.MarkDown(err)
		},
	}
}

func (c *Client) remember(cam Camera) {
	c.mu.Lock()
	c.cameras[cam.ID] = cam
	c.mu.Unlock()
}

func (c *Client) notify(ev notify.Event) {
	if c.notifier != nil {
		c.notifier.Notify(ev)
	}
}

func (c *Client) budgetChanged(b limiter.Budget) {
	c.notify(notify.RateLimitEvent{Source: c.source, Budget: b})
}
