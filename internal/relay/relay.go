package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/metoffice"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

// Logger is the logging interface used by the relay.
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

// Publisher sends JSON payloads to the bus. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Recorder stores time series. *influxdb.Client satisfies it.
type Recorder interface {
	WriteForecastStep(source, subject, kind string, at time.Time, values map[string]float64)
	WriteBudget(source, limiterID string, used, limit int)
	WriteStreamEvent(source, channel, action string)
	WriteLinkState(source, state string, up bool)
}

// Config holds the dependencies of a Relay.
type Config struct {
	Publisher Publisher

	// Recorder is optional.
	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time

	Logger Logger
}

// Relay forwards binding events to MQTT and InfluxDB.
type Relay struct {
	pub      Publisher
	recorder Recorder
	now      func() time.Time
	logger   Logger

	mu     sync.Mutex
	status map[string]*SourceStatus
}

// New creates a Relay. Register it with a notify.Registry to start
// forwarding.
func New(cfg Config) (*Relay, error) {
	if cfg.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Relay{
		pub:      cfg.Publisher,
		recorder: cfg.Recorder,
		now:      cfg.Now,
		logger:   cfg.Logger,
		status:   make(map[string]*SourceStatus),
	}, nil
}

// HandleEvent implements notify.Listener.
func (r *Relay) HandleEvent(ev notify.Event) error {
	switch e := ev.(type) {
	case notify.AuthEvent:
		r.record(func(rec Recorder) { rec.WriteLinkState(e.Source, "authenticated", e.Authenticated) })
		return r.publishStatus(e.Source, func(s *SourceStatus) {
			s.Authenticated = e.Authenticated
		})
	case notify.ConnectedEvent:
		r.record(func(rec Recorder) { rec.WriteLinkState(e.Source, "connected", true) })
		return r.publishStatus(e.Source, func(s *SourceStatus) {
			s.Connected = true
			s.LastError = ""
		})
	case notify.CommunicationFailureEvent:
		r.record(func(rec Recorder) { rec.WriteLinkState(e.Source, "connected", false) })
		return r.publishStatus(e.Source, func(s *SourceStatus) {
			s.Connected = false
			if e.Err != nil {
				s.LastError = e.Err.Error()
			}
		})
	case notify.APIErrorEvent:
		serverDown := e.StatusCode >= http.StatusInternalServerError
		if serverDown {
			r.record(func(rec Recorder) { rec.WriteLinkState(e.Source, "connected", false) })
		}
		return r.publishStatus(e.Source, func(s *SourceStatus) {
			if serverDown {
				s.Connected = false
			}
			if e.Err != nil {
				s.LastError = e.Err.Error()
			}
		})
	case notify.RateLimitEvent:
		r.record(func(rec Recorder) { rec.WriteBudget(e.Source, e.Budget.ID, e.Budget.Used, e.Budget.DailyLimit) })
		return r.publish(mqtt.Topics{}.RateLimit(e.Source), newBudgetPayload(e.Budget), true)
	case notify.ResponseEvent:
		if e.Kind == notify.KindDaily || e.Kind == notify.KindHourly {
			return r.forecast(e)
		}
		return r.publish(mqtt.Topics{}.Data(e.Source, e.Kind), DataPayload{
			Source:  e.Source,
			Subject: e.Subject,
			Kind:    e.Kind,
			PollID:  e.PollID,
			Content: e.Content,
		}, true)
	case notify.StreamEvent:
		r.record(func(rec Recorder) { rec.WriteStreamEvent(e.Source, e.Channel, e.Action) })
		return r.publish(mqtt.Topics{}.Event(e.Source, e.Action), EventPayload{
			Source:  e.Source,
			Channel: e.Channel,
			Action:  e.Action,
			Item:    e.Payload,
		}, false)
	default:
		return nil
	}
}

// Status returns the last published status of every source seen so far.
func (r *Relay) Status() []SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SourceStatus, 0, len(r.status))
	for _, s := range r.status {
		out = append(out, *s)
	}
	return out
}

func (r *Relay) publishStatus(source string, update func(s *SourceStatus)) error {
	r.mu.Lock()
	s, ok := r.status[source]
	if !ok {
		s = &SourceStatus{Source: source}
		r.status[source] = s
	}
	update(s)
	s.Timestamp = r.now().UTC().Format(time.RFC3339)
	payload := *s
	r.mu.Unlock()

	return r.publish(mqtt.Topics{}.SourceStatus(source), payload, true)
}

// forecast publishes the current window of a daily or hourly forecast and
// records each step.
func (r *Relay) forecast(e notify.ResponseEvent) error {
	payload := ForecastPayload{
		Source: e.Source,
		Site:   e.Subject,
		Kind:   e.Kind,
		PollID: e.PollID,
	}

	var fc metoffice.FeatureCollection
	steps, err := decodeForecast(e.Content, &fc, e.Kind, r.now())
	if err != nil {
		r.logger.Warn("forecast not decodable, relaying raw response",
			"source", e.Source, "site", e.Subject, "kind", e.Kind, "error", err)
		payload.Raw = e.Content
	} else {
		payload.Location = fc.LocationName()
		payload.Steps = steps
		r.record(func(rec Recorder) {
			for _, step := range steps {
				rec.WriteForecastStep(e.Source, e.Subject, e.Kind, step.Time, step.Values)
			}
		})
	}

	return r.publish(mqtt.Topics{}.Forecast(e.Source, e.Subject, e.Kind), payload, true)
}

func decodeForecast(content json.RawMessage, fc *metoffice.FeatureCollection, kind string, now time.Time) ([]metoffice.TimeStep, error) {
	if err := json.Unmarshal(content, fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return fc.Current(kind, now)
}

func (r *Relay) publish(topic string, v any, retained bool) error {
	if err := r.pub.PublishJSON(topic, v, retained); err != nil {
		return fmt.Errorf("relay: publishing %s: %w", topic, err)
	}
	return nil
}

func (r *Relay) record(fn func(rec Recorder)) {
	if r.recorder != nil {
		fn(r.recorder)
	}
}
