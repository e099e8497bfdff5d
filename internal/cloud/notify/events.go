package notify

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
)

// Event is one of the variants declared in this file.
type Event interface {
	// EventSource names the binding that produced the event, e.g. "datahub".
	EventSource() string

	sealed()
}

// Response kinds.
const (
	KindDaily  = "daily"
	KindHourly = "hourly"
)

// Stream actions, matching the frame "type" discriminator.
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// AuthEvent reports a change in whether the provider accepts the credential.
type AuthEvent struct {
	Source        string
	Authenticated bool
}

// ConnectedEvent reports that requests succeed again after a
// communication failure.
type ConnectedEvent struct {
	Source string
}

// CommunicationFailureEvent reports a transport-level failure.
type CommunicationFailureEvent struct {
	Source string
	Err    error
}

// APIErrorEvent reports a response the provider sent but the binding
// could not use: a non-2xx status other than 401/403, or a 2xx body that
// failed to decode. StatusCode is 500 or above when the provider itself
// is failing.
type APIErrorEvent struct {
	Source     string
	StatusCode int
	Err        error
}

// RateLimitEvent carries a budget after it changed.
type RateLimitEvent struct {
	Source string
	Budget limiter.Budget
}

// ResponseEvent carries a successful poll result.
type ResponseEvent struct {
	Source string

	// Subject identifies what was polled, e.g. a forecast site id.
	Subject string

	Kind    string
	PollID  int64
	Content json.RawMessage
}

// StreamEvent carries one add/update/remove frame from an event stream.
type StreamEvent struct {
	Source  string
	Channel string
	Action  string
	Payload json.RawMessage
}

func (e AuthEvent) EventSource() string                 { return e.Source }
func (e ConnectedEvent) EventSource() string            { return e.Source }
func (e CommunicationFailureEvent) EventSource() string { return e.Source }
func (e APIErrorEvent) EventSource() string             { return e.Source }
func (e RateLimitEvent) EventSource() string            { return e.Source }
func (e ResponseEvent) EventSource() string             { return e.Source }
func (e StreamEvent) EventSource() string               { return e.Source }

func (AuthEvent) sealed()                 {}
func (ConnectedEvent) sealed()            {}
func (CommunicationFailureEvent) sealed() {}
func (APIErrorEvent) sealed()             {}
func (RateLimitEvent) sealed()            {}
func (ResponseEvent) sealed()             {}
func (StreamEvent) sealed()               {}

// EventName returns a short stable name for ev, used in logs and metrics.
func EventName(ev Event) string {
	switch ev.(type) {
	case AuthEvent:
		return "auth"
	case ConnectedEvent:
		return "connected"
	case CommunicationFailureEvent:
		return "communication_failure"
	case APIErrorEvent:
		return "api_error"
	case RateLimitEvent:
		return "rate_limit"
	case ResponseEvent:
		return "response"
	case StreamEvent:
		return "stream"
	default:
		return "unknown"
	}
}
