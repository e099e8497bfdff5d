package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
)

const (
	// DefaultHeartbeat is the ping interval when Config.Heartbeat is zero.
	DefaultHeartbeat = 30 * time.Second

	defaultHandshakeTimeout = 15 * time.Second
)

// Logger defines the logging interface used by the Manager.
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

// Upstream is the HTTP client whose quota, throttle and credential stream
// upgrades share. *client.Client implements it.
type Upstream interface {
	Admit(ctx context.Context) (int, error)
	BaseURL() string
	ObserveStatus(status int)
	MarkDown(err error)
	CredentialHeader(h http.Header) error
}

// Config configures a Manager.
type Config struct {
	Upstream Upstream

	// Heartbeat is the ping interval. Defaults to DefaultHeartbeat.
	Heartbeat time.Duration

	HandshakeTimeout time.Duration

	// TLSClientConfig is used for wss:// dials.
	TLSClientConfig *tls.Config

	Logger Logger
}

// Manager opens and tracks one Session per subscription path.
//
// All methods are safe for concurrent use.
type Manager struct {
	upstream  Upstream
	heartbeat time.Duration
	dialer    *websocket.Dialer
	logger    Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Upstream == nil {
		return nil, ErrNoUpstream
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Manager{
		upstream:  cfg.Upstream,
		heartbeat: cfg.Heartbeat,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLSClientConfig,
		},
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Connect opens a subscription on path, replacing any session already
// open on it. It returns once the upgrade completes.
//
// Parameters:
//   - ctx: Bounds admission and the handshake, not the session lifetime
//   - path: Appended to the upstream base URL, with http(s) mapped to ws(s)
//   - h: Session callbacks
//
// Returns:
//   - *Session: The connected session
//   - error: Admission errors (including client.ErrRateLimitExceeded),
//     auth.ErrNoCredential or *HandshakeError
func (m *Manager) Connect(ctx context.Context, path string, h Handlers) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	old := m.sessions[path]
	delete(m.sessions, path)
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	header := http.Header{}
	if err := m.upstream.CredentialHeader(header); err != nil {
		return nil, err
	}

	if _, err := m.upstream.Admit(ctx); err != nil {
		return nil, err
	}

	s := &Session{
		id:        uuid.NewString(),
		path:      path,
		handlers:  h,
		heartbeat: m.heartbeat,
		logger:    m.logger,
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	target := WebSocketURL(m.upstream.BaseURL()) + path
	conn, resp, err := m.dialer.DialContext(ctx, target, header)
	if resp != nil {
		status := resp.StatusCode
		if status == http.StatusSwitchingProtocols {
			// An accepted upgrade is an accepted credential.
			status = http.StatusOK
		}
		m.upstream.ObserveStatus(status)
		resp.Body.Close() //nolint:errcheck // Handshake body is not used
	}
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		he := &HandshakeError{Err: err}
		if resp != nil {
			he.StatusCode = resp.StatusCode
		}
		// A refused credential is tracked by the auth gate; anything
		// else means the stream endpoint is unusable.
		if !errors.Is(he, client.ErrAuthentication) {
			m.upstream.MarkDown(he)
		}
		return nil, he
	}

	s.conn = conn

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close() //nolint:errcheck // Manager shut down during the dial
		return nil, ErrManagerClosed
	}
	m.sessions[path] = s
	m.mu.Unlock()

	m.logger.Info("stream connected", "session", s.id, "path", path)
	s.start()

	go m.forget(s)
	return s, nil
}

// forget drops s from the table once it ends, unless it was replaced.
func (m *Manager) forget(s *Session) {
	<-s.done
	m.mu.Lock()
	if m.sessions[s.path] == s {
		delete(m.sessions, s.path)
	}
	m.mu.Unlock()
}

// Session returns the live session on path, if any.
func (m *Manager) Session(path string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[path]
	return s, ok
}

// Close closes every session and rejects further Connect calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// WebSocketURL maps an http(s) base URL to ws(s).
func WebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
