package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Registry.
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

// Listener consumes events. A returned error is logged and otherwise ignored.
type Listener interface {
	HandleEvent(ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event) error

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// Handle identifies a registration.
type Handle uint64

// Registry is a thread-safe set of listeners.
//
// Register, Unregister and Notify may be called concurrently, including
// from inside a listener.
type Registry struct {
	logger Logger

	mu     sync.RWMutex
	next   Handle
	subs   map[Handle]*subscriber
	closed bool

	wg sync.WaitGroup
}

type subscriber struct {
	handle   Handle
	listener Listener
	active   atomic.Bool

	mu    sync.Mutex
	queue []Event

	wake chan struct{}
	stop chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: noopLogger{},
		subs:   make(map[Handle]*subscriber),
	}
}

// SetLogger sets the logger used for listener failures.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register adds a listener and starts its delivery goroutine.
// Registering on a closed registry returns handle 0 and delivers nothing.
func (r *Registry) Register(l Listener) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	r.next++
	s := &subscriber{
		handle:   r.next,
		listener: l,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	s.active.Store(true)
	r.subs[s.handle] = s

	r.wg.Add(1)
	go r.run(s)

	return s.handle
}

// Unregister removes a listener. No event is handed to it after Unregister
// returns; a delivery already running is allowed to finish.
//
// Returns false if the handle was not registered.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	s, ok := r.subs[h]
	if ok {
		delete(r.subs, h)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.active.Store(false)
	close(s.stop)
	return true
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify queues ev for every registered listener and returns immediately.
func (r *Registry) Notify(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs {
		s.enqueue(ev)
	}
}

// Close unregisters every listener and waits for their goroutines to exit.
// Queued events that were not yet delivered are dropped.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[Handle]*subscriber)
	r.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
		close(s.stop)
	}
	r.wg.Wait()
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (r *Registry) run(s *subscriber) {
	defer r.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for batch := s.drain(); len(batch) > 0; batch = s.drain() {
			for _, ev := range batch {
				if !s.active.Load() {
					return
				}
				r.deliver(s, ev)
			}
		}
	}
}

// deliver invokes the listener, isolating errors and panics.
func (r *Registry) deliver(s *subscriber, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"handle", s.handle,
				"event", EventName(ev),
				"panic", fmt.Sprintf("%v", rec),
			)
		}
	}()

	if err := s.listener.HandleEvent(ev); err != nil {
		r.logger.Warn("listener failed",
			"handle", s.handle,
			"event", EventName(ev),
			"source", ev.EventSource(),
			"error", err,
		)
	}
}
