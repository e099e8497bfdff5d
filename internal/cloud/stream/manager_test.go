package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
)

const waitTimeout = 2 * time.Second

// fakeUpstream stands in for *client.Client.
type fakeUpstream struct {
	baseURL  string
	key      string
	admitErr error

	admits   atomic.Int32
	statuses chan int
	downs    atomic.Int32
}

func newFakeUpstream(baseURL string) *fakeUpstream {
	return &fakeUpstream{baseURL: baseURL, key: "protect-key", statuses: make(chan int, 10)}
}

func (f *fakeUpstream) Admit(context.Context) (int, error) {
	f.admits.Add(1)
	return 0, f.admitErr
}
func (f *fakeUpstream) BaseURL() string          { return f.baseURL }
func (f *fakeUpstream) ObserveStatus(status int) { f.statuses <- status }
func (f *fakeUpstream) MarkDown(error)           { f.downs.Add(1) }
func (f *fakeUpstream) CredentialHeader(h http.Header) error {
	h.Set("X-API-KEY", f.key)
	return nil
}

// wsServer upgrades requests carrying the right key and hands the
// server-side connection to the test.
type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "protect-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
		return c
	case <-time.After(waitTimeout):
		t.Fatal("server never received a connection")
		return nil
	}
}

func newTestManager(t *testing.T, up Upstream, heartbeat time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{Upstream: up, Heartbeat: heartbeat})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestWebSocketURL(t *testing.T) {
	tests := map[string]string{
		"https://nvr.local/proxy/protect/integration/v1": "wss://nvr.local/proxy/protect/integration/v1",
		"http://127.0.0.1:8080":                          "ws://127.0.0.1:8080",
		"ws://already":                                   "ws://already",
	}
	for in, want := range tests {
		if got := WebSocketURL(in); got != want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnect_DispatchesByType(t *testing.T) {
	srv := newWSServer(t)
	up := newFakeUpstream(srv.URL)
	m := newTestManager(t, up, time.Minute)

	var (
		mu     sync.Mutex
		seen   []string
		opened atomic.Bool
	)
	record := func(kind string) func(Message) {
		return func(msg Message) {
			mu.Lock()
			seen = append(seen, kind+":"+string(msg.Item))
			mu.Unlock()
		}
	}

	sess, err := m.Connect(context.Background(), "/subscribe/events", Handlers{
		OnAdd:    record("add"),
		OnUpdate: record("update"),
		OnRemove: record("remove"),
		OnOpen:   func(*Session) { opened.Store(true) },
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if sess.State() != StateConnected {
		t.Errorf("State() = %v, want connected", sess.State())
	}
	if !opened.Load() {
		t.Error("OnOpen was not called before Connect returned")
	}
	if up.admits.Load() != 1 {
		t.Errorf("admits = %d, want 1", up.admits.Load())
	}
	if status := <-up.statuses; status != http.StatusOK {
		t.Errorf("observed status = %d, want 200", status)
	}

	conn := srv.accept(t)
	frames := []string{
		`{"type":"add","item":{"id":"e1"}}`,
		`not json`,
		`{"type":"bogus","item":{}}`,
		`{"type":"update","item":{"id":"e1"}}`,
		`{"type":"remove","item":{"id":"e1"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("server write error = %v", err)
		}
	}

	want := []string{`add:{"id":"e1"}`, `update:{"id":"e1"}`, `remove:{"id":"e1"}`}
	deadline := time.Now().Add(waitTimeout)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= len(want) || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("dispatched %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestConnect_ServerCloseCallsOnClose(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, newFakeUpstream(srv.URL), time.Minute)

	type closed struct {
		code   int
		reason string
	}
	closes := make(chan closed, 1)
	errs := make(chan error, 1)

	sess, err := m.Connect(context.Background(), "/subscribe/devices", Handlers{
		OnClose: func(code int, reason string) { closes <- closed{code, reason} },
		OnError: func(err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := srv.accept(t)
	//nolint:errcheck // Test server close frame
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"),
		time.Now().Add(time.Second))

	select {
	case c := <-closes:
		if c.code != websocket.CloseGoingAway || c.reason != "restarting" {
			t.Errorf("OnClose(%d, %q), want (%d, restarting)", c.code, c.reason, websocket.CloseGoingAway)
		}
	case err := <-errs:
		t.Fatalf("OnError(%v), want OnClose", err)
	case <-time.After(waitTimeout):
		t.Fatal("OnClose was not called")
	}

	sess.Wait()
	if sess.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", sess.State())
	}
	if _, ok := m.Session("/subscribe/devices"); ok {
		// forget runs asynchronously; give it a moment.
		time.Sleep(50 * time.Millisecond)
		if _, ok := m.Session("/subscribe/devices"); ok {
			t.Error("ended session still tracked")
		}
	}
}

func TestConnect_HeartbeatFailureCallsOnError(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, newFakeUpstream(srv.URL), 20*time.Millisecond)

	errs := make(chan error, 1)
	var closes atomic.Int32
	_, err := m.Connect(context.Background(), "/subscribe/events", Handlers{
		OnClose: func(int, string) { closes.Add(1) },
		OnError: func(err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Drop the TCP connection without a close frame, so the next ping
	// or read fails.
	conn := srv.accept(t)
	conn.UnderlyingConn().Close() //nolint:errcheck // Simulated network loss

	select {
	case err := <-errs:
		if err == nil {
			t.Error("OnError called with nil error")
		}
	case <-time.After(waitTimeout):
		t.Fatal("OnError was not called")
	}
	if closes.Load() != 0 {
		t.Error("OnClose should not be called after a failure")
	}
}

func TestConnect_ReplacesSessionOnSamePath(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, newFakeUpstream(srv.URL), time.Minute)

	closed := make(chan int, 1)
	first, err := m.Connect(context.Background(), "/subscribe/events", Handlers{
		OnClose: func(code int, _ string) { closed <- code },
	})
	if err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	srv.accept(t)

	second, err := m.Connect(context.Background(), "/subscribe/events", Handlers{})
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	srv.accept(t)

	select {
	case code := <-closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("replaced session closed with %d", code)
		}
	case <-time.After(waitTimeout):
		t.Fatal("replaced session was not closed")
	}

	if first.ID() == second.ID() {
		t.Error("replacement should be a new session")
	}
	if got, _ := m.Session("/subscribe/events"); got != second {
		t.Error("manager should track the replacement")
	}
}

func TestConnect_Errors(t *testing.T) {
	srv := newWSServer(t)

	t.Run("admission refused", func(t *testing.T) {
		up := newFakeUpstream(srv.URL)
		up.admitErr = client.ErrRateLimitExceeded
		m := newTestManager(t, up, time.Minute)

		if _, err := m.Connect(context.Background(), "/x", Handlers{}); !errors.Is(err, client.ErrRateLimitExceeded) {
			t.Errorf("Connect() error = %v, want ErrRateLimitExceeded", err)
		}
	})

	t.Run("credential refused", func(t *testing.T) {
		up := newFakeUpstream(srv.URL)
		up.key = "wrong"
		m := newTestManager(t, up, time.Minute)

		_, err := m.Connect(context.Background(), "/x", Handlers{})
		var he *HandshakeError
		if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Connect() error = %v, want 401 handshake error", err)
		}
		if !errors.Is(err, client.ErrAuthentication) {
			t.Error("401 handshake should match ErrAuthentication")
		}
		if status := <-up.statuses; status != http.StatusUnauthorized {
			t.Errorf("observed status = %d, want 401", status)
		}
		if up.downs.Load() != 0 {
			t.Errorf("MarkDown calls = %d, want 0 for a refused credential", up.downs.Load())
		}
	})

	t.Run("upgrade refused by server", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer failing.Close()

		up := newFakeUpstream(failing.URL)
		m := newTestManager(t, up, time.Minute)

		_, err := m.Connect(context.Background(), "/x", Handlers{})
		var he *HandshakeError
		if !errors.As(err, &he) || he.StatusCode != http.StatusInternalServerError {
			t.Fatalf("Connect() error = %v, want 500 handshake error", err)
		}
		if status := <-up.statuses; status != http.StatusInternalServerError {
			t.Errorf("observed status = %d, want 500", status)
		}
		if up.downs.Load() != 1 {
			t.Errorf("MarkDown calls = %d, want 1", up.downs.Load())
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		up := newFakeUpstream("http://127.0.0.1:1")
		m := newTestManager(t, up, time.Minute)

		if _, err := m.Connect(context.Background(), "/x", Handlers{}); err == nil {
			t.Fatal("Connect() to closed port should fail")
		}
		if up.downs.Load() != 1 {
			t.Errorf("MarkDown calls = %d, want 1", up.downs.Load())
		}
	})

	t.Run("closed manager", func(t *testing.T) {
		m := newTestManager(t, newFakeUpstream(srv.URL), time.Minute)
		m.Close()
		if _, err := m.Connect(context.Background(), "/x", Handlers{}); !errors.Is(err, ErrManagerClosed) {
			t.Errorf("Connect() error = %v, want ErrManagerClosed", err)
		}
	})
}

func TestNewManager_RequiresUpstream(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrNoUpstream) {
		t.Errorf("NewManager() error = %v, want ErrNoUpstream", err)
	}
}

func TestClientSatisfiesUpstream(_ *testing.T) {
	var _ Upstream = (*client.Client)(nil)
}
