package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

// Poller is a binding that can be asked to poll on demand.
type Poller interface {
	Source() string

	// PollCommand polls kind for subject, or for every subject when
	// subject is empty.
	PollCommand(ctx context.Context, subject, kind string) error
}

// Subscriber is the inbound side of the bus. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Command is the optional JSON payload of a poll command. An empty
// payload polls every subject of the binding.
type Command struct {
	Subject string `json:"subject"`
}

// Router dispatches poll commands received on
// graylogic/cloud/{source}/poll/{kind} to the matching Poller.
type Router struct {
	sub    Subscriber
	qos    byte
	logger Logger

	// mu guards pollers and stopped. In-flight polls join wg under mu so
	// none is added once Stop has begun waiting.
	mu      sync.RWMutex
	pollers map[string]Poller
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a Router. Call Add for each binding, then Start.
func NewRouter(sub Subscriber, qos byte, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		sub:     sub,
		qos:     qos,
		logger:  logger,
		pollers: make(map[string]Poller),
	}
}

// Add registers p under p.Source().
func (rt *Router) Add(p Poller) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.pollers[p.Source()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, p.Source())
	}
	rt.pollers[p.Source()] = p
	return nil
}

// Start subscribes to poll commands. Polls run on their own goroutines
// under ctx so that a slow provider does not stall the MQTT client.
func (rt *Router) Start(ctx context.Context) error {
	rt.ctx, rt.cancel = context.WithCancel(ctx)
	if err := rt.sub.Subscribe(mqtt.Topics{}.AllPollCommands(), rt.qos, rt.handleMessage); err != nil {
		rt.cancel()
		return fmt.Errorf("relay: subscribing to poll commands: %w", err)
	}
	return nil
}

// Stop unsubscribes, cancels in-flight polls and waits for them.
func (rt *Router) Stop() error {
	if rt.cancel == nil {
		return nil
	}
	rt.mu.Lock()
	rt.stopped = true
	rt.mu.Unlock()

	err := rt.sub.Unsubscribe(mqtt.Topics{}.AllPollCommands())
	rt.cancel()
	rt.wg.Wait()
	return err
}

func (rt *Router) handleMessage(topic string, payload []byte) error {
	source, kind, ok := mqtt.ParsePollCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		return err
	}

	rt.mu.RLock()
	if rt.stopped {
		rt.mu.RUnlock()
		return ErrRouterStopped
	}
	p, ok := rt.pollers[source]
	if ok {
		rt.wg.Add(1)
	}
	rt.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	go func() {
		defer rt.wg.Done()
		if err := p.PollCommand(rt.ctx, cmd.Subject, kind); err != nil {
			rt.logger.Warn("poll command failed",
				"source", source, "subject", cmd.Subject, "kind", kind, "error", err)
			return
		}
		rt.logger.Debug("poll command done", "source", source, "subject", cmd.Subject, "kind", kind)
	}()
	return nil
}

// Dispatch runs a poll command synchronously, as the HTTP API does.
func (rt *Router) Dispatch(ctx context.Context, source, subject, kind string) error {
	rt.mu.RLock()
	p, ok := rt.pollers[source]
	rt.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return p.PollCommand(ctx, subject, kind)
}

func parseCommand(payload []byte) (Command, error) {
	var cmd Command
	if len(bytes.TrimSpace(payload)) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return cmd, nil
}
