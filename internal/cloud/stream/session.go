package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
)

// State is a session's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one inbound frame.
type Message struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

// Handlers receive session callbacks. Nil handlers are skipped.
//
// Message handlers run on the session's read goroutine in frame order.
// Exactly one of OnClose or OnError is called when the session ends.
type Handlers struct {
	OnAdd    func(Message)
	OnUpdate func(Message)
	OnRemove func(Message)

	OnOpen  func(*Session)
	OnClose func(code int, reason string)
	OnError func(err error)
}

const (
	// writeWait bounds control frame writes.
	writeWait = 10 * time.Second

	maxFrameBytes = 1 << 20
)

// Session is one live WebSocket connection.
type Session struct {
	id        string
	path      string
	conn      *websocket.Conn
	handlers  Handlers
	heartbeat time.Duration
	logger    Logger

	state atomic.Int32

	writeMu sync.Mutex

	// done is closed when the session ends; readDone when the read loop exits.
	done     chan struct{}
	readDone chan struct{}
	endOnce  sync.Once
}

// ID returns the session's correlation id.
func (s *Session) ID() string {
	return s.id
}

// Path returns the subscription path.
func (s *Session) Path() string {
	return s.path
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the read goroutine has exited, after which no more
// handlers run. Don't call it from a handler.
func (s *Session) Wait() {
	<-s.readDone
}

// CloseReasonLocal is the OnClose reason when Close ended the session.
const CloseReasonLocal = "closed by client"

// Close sends a normal close frame and tears the session down.
// OnClose is called with websocket.CloseNormalClosure and CloseReasonLocal.
func (s *Session) Close() {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return
	}

	s.writeMu.Lock()
	//nolint:errcheck // Best-effort close frame; the socket is closed below
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	s.end(StateDisconnected, func() {
		if s.handlers.OnClose != nil {
			s.handlers.OnClose(websocket.CloseNormalClosure, CloseReasonLocal)
		}
	})
}

func (s *Session) start() {
	s.conn.SetReadLimit(maxFrameBytes)
	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})

	s.state.Store(int32(StateConnected))
	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen(s)
	}

	go s.readLoop()
	go s.heartbeatLoop()
}

// extendDeadline allows two missed heartbeats before a read times out.
func (s *Session) extendDeadline() {
	//nolint:errcheck // Best-effort deadline; a failure surfaces on the next read
	s.conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
}

func (s *Session) readLoop() {
	defer close(s.readDone)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		s.extendDeadline()
		s.dispatch(data)
	}
}

func (s *Session) readFailed(err error) {
	var ce *websocket.CloseError
	switch {
	case s.State() != StateConnected:
		// Closed locally or already failed.
		return
	case errors.As(err, &ce):
		s.logger.Info("stream closed by server", "session", s.id, "path", s.path, "code", ce.Code, "reason", ce.Text)
		s.end(StateDisconnected, func() {
			if s.handlers.OnClose != nil {
				s.handlers.OnClose(ce.Code, ce.Text)
			}
		})
	default:
		s.fail(fmt.Errorf("stream: reading %s: %w", s.path, err))
	}
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.fail(fmt.Errorf("stream: heartbeat on %s: %w", s.path, err))
				return
			}
		}
	}
}

func (s *Session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Session) fail(err error) {
	s.logger.Warn("stream session failed", "session", s.id, "path", s.path, "error", err)
	s.end(StateError, func() {
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	})
}

// end runs once: it records the terminal state, stops the heartbeat,
// closes the socket, invokes the callback and settles in Disconnected.
func (s *Session) end(state State, callback func()) {
	s.endOnce.Do(func() {
		s.state.Store(int32(state))
		close(s.done)
		s.conn.Close() //nolint:errcheck // Socket is being discarded
		callback()
		s.state.Store(int32(StateDisconnected))
	})
}

// dispatch decodes one frame and routes it by its type field.
func (s *Session) dispatch(data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("stream handler panicked", "session", s.id, "panic", fmt.Sprintf("%v", rec))
		}
	}()

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("dropping unparsable frame", "session", s.id, "path", s.path, "error", err)
		return
	}

	var handler func(Message)
	switch msg.Type {
	case notify.ActionAdd:
		handler = s.handlers.OnAdd
	case notify.ActionUpdate:
		handler = s.handlers.OnUpdate
	case notify.ActionRemove:
		handler = s.handlers.OnRemove
	default:
		s.logger.Warn("dropping frame with unknown type", "session", s.id, "path", s.path, "type", msg.Type)
		return
	}

	if handler != nil {
		handler(msg)
	}
}
