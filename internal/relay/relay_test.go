package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

var testNow = time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

const hourlyForecast = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "geometry": {"type": "Point", "coordinates": [-0.1, 51.5, 11]},
    "properties": {
      "location": {"name": "London"},
      "requestPointDistance": 12.3,
      "modelRunDate": "2024-01-01T10:00Z",
      "timeSeries": [
        {"time": "2024-01-01T11:00Z", "screenTemperature": 6.1},
        {"time": "2024-01-01T12:00Z", "screenTemperature": 6.8, "significantWeatherCode": 7},
        {"time": "2024-01-01T13:00Z", "screenTemperature": 7.2}
      ]
    }
  }]
}`

type published struct {
	topic    string
	payload  json.RawMessage
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	if f.err != nil {
		return f.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic: topic, payload: data, retained: retained})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return f.msgs[len(f.msgs)-1]
}

type fakeRecorder struct {
	forecast []time.Time
	budgets  []int
	events   []string
	links    []string
}

func (f *fakeRecorder) WriteForecastStep(_, _, _ string, at time.Time, _ map[string]float64) {
	f.forecast = append(f.forecast, at)
}

func (f *fakeRecorder) WriteBudget(_, _ string, used, _ int) {
	f.budgets = append(f.budgets, used)
}

func (f *fakeRecorder) WriteStreamEvent(_, channel, action string) {
	f.events = append(f.events, channel+"/"+action)
}

func (f *fakeRecorder) WriteLinkState(_, state string, up bool) {
	if up {
		state += "+"
	} else {
		state += "-"
	}
	f.links = append(f.links, state)
}

func newTestRelay(t *testing.T) (*Relay, *fakePublisher, *fakeRecorder) {
	t.Helper()
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	r, err := New(Config{Publisher: pub, Recorder: rec, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, pub, rec
}

func TestNew_NoPublisher(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("New() error = %v, want ErrNoPublisher", err)
	}
}

func TestHandleEvent_Status(t *testing.T) {
	r, pub, rec := newTestRelay(t)

	events := []notify.Event{
		notify.AuthEvent{Source: "datahub", Authenticated: true},
		notify.CommunicationFailureEvent{Source: "datahub", Err: errors.New("dial tcp: refused")},
		notify.ConnectedEvent{Source: "datahub"},
		notify.APIErrorEvent{Source: "datahub", StatusCode: 404, Err: errors.New("site not found")},
		notify.APIErrorEvent{Source: "datahub", StatusCode: 500, Err: errors.New("upstream down")},
		notify.ConnectedEvent{Source: "datahub"},
	}
	want := []SourceStatus{
		{Source: "datahub", Authenticated: true},
		{Source: "datahub", Authenticated: true, LastError: "dial tcp: refused"},
		{Source: "datahub", Authenticated: true, Connected: true},
		{Source: "datahub", Authenticated: true, Connected: true, LastError: "site not found"},
		{Source: "datahub", Authenticated: true, LastError: "upstream down"},
		{Source: "datahub", Authenticated: true, Connected: true},
	}

	for i, ev := range events {
		if err := r.HandleEvent(ev); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", notify.EventName(ev), err)
		}
		msg := pub.last(t)
		if msg.topic != "graylogic/cloud/datahub/status" || !msg.retained {
			t.Errorf("event %d published to %q retained=%v", i, msg.topic, msg.retained)
		}
		var got SourceStatus
		if err := json.Unmarshal(msg.payload, &got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		want[i].Timestamp = "2024-01-01T12:30:00Z"
		if got != want[i] {
			t.Errorf("event %d status = %+v, want %+v", i, got, want[i])
		}
	}

	wantLinks := []string{"authenticated+", "connected-", "connected+", "connected-", "connected+"}
	if strings.Join(rec.links, ",") != strings.Join(wantLinks, ",") {
		t.Errorf("link states = %v, want %v", rec.links, wantLinks)
	}
	if st := r.Status(); len(st) != 1 || !st[0].Connected {
		t.Errorf("Status() = %+v", st)
	}
}

func TestHandleEvent_RateLimit(t *testing.T) {
	r, pub, rec := newTestRelay(t)

	budget := limiter.Budget{
		ID:         "datahub_forecast",
		DailyLimit: 360,
		Used:       12,
		ResetAt:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := r.HandleEvent(notify.RateLimitEvent{Source: "datahub", Budget: budget}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	msg := pub.last(t)
	if msg.topic != "graylogic/cloud/datahub/ratelimit" {
		t.Errorf("topic = %q", msg.topic)
	}
	var got BudgetPayload
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := BudgetPayload{Limiter: "datahub_forecast", DailyLimit: 360, Used: 12, Remaining: 348, ResetAt: "2024-01-02T00:00:00Z"}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
	if len(rec.budgets) != 1 || rec.budgets[0] != 12 {
		t.Errorf("recorded budgets = %v", rec.budgets)
	}
}

func TestHandleEvent_Forecast(t *testing.T) {
	r, pub, rec := newTestRelay(t)

	err := r.HandleEvent(notify.ResponseEvent{
		Source:  "datahub",
		Subject: "home",
		Kind:    notify.KindHourly,
		PollID:  4,
		Content: json.RawMessage(hourlyForecast),
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	msg := pub.last(t)
	if msg.topic != "graylogic/cloud/datahub/forecast/home/hourly" || !msg.retained {
		t.Errorf("published to %q retained=%v", msg.topic, msg.retained)
	}

	var got struct {
		Site     string            `json:"site"`
		PollID   int64             `json:"poll_id"`
		Location string            `json:"location"`
		Steps    []json.RawMessage `json:"steps"`
		Raw      json.RawMessage   `json:"raw"`
	}
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Site != "home" || got.PollID != 4 || got.Location != "London" {
		t.Errorf("payload = %+v", got)
	}
	if len(got.Steps) != 2 {
		t.Errorf("steps = %d, want 2 (12:00 and 13:00)", len(got.Steps))
	}
	if got.Raw != nil {
		t.Errorf("raw = %s, want omitted", got.Raw)
	}

	if len(rec.forecast) != 2 || rec.forecast[0].Hour() != 12 {
		t.Errorf("recorded steps = %v", rec.forecast)
	}
}

func TestHandleEvent_ForecastUndecodable(t *testing.T) {
	r, pub, rec := newTestRelay(t)

	content := json.RawMessage(`{"type":"FeatureCollection","features":[]}`)
	err := r.HandleEvent(notify.ResponseEvent{Source: "datahub", Subject: "home", Kind: notify.KindDaily, Content: content})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	var got ForecastPayload
	if err := json.Unmarshal(pub.last(t).payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(got.Steps) != 0 || string(got.Raw) != string(content) {
		t.Errorf("payload = %+v, want raw passthrough", got)
	}
	if len(rec.forecast) != 0 {
		t.Errorf("recorded steps = %v, want none", rec.forecast)
	}
}

func TestHandleEvent_DataAndStream(t *testing.T) {
	r, pub, rec := newTestRelay(t)

	tests := []struct {
		name     string
		ev       notify.Event
		topic    string
		retained bool
	}{
		{
			name:     "poll data",
			ev:       notify.ResponseEvent{Source: "protect", Subject: "nvr", Kind: "cameras", PollID: 1, Content: json.RawMessage(`[]`)},
			topic:    "graylogic/cloud/protect/data/cameras",
			retained: true,
		},
		{
			name:  "stream frame",
			ev:    notify.StreamEvent{Source: "protect", Channel: "events", Action: notify.ActionAdd, Payload: json.RawMessage(`{"id":"e1"}`)},
			topic: "graylogic/cloud/protect/event/add",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.HandleEvent(tt.ev); err != nil {
				t.Fatalf("HandleEvent() error = %v", err)
			}
			msg := pub.last(t)
			if msg.topic != tt.topic || msg.retained != tt.retained {
				t.Errorf("published to %q retained=%v, want %q retained=%v", msg.topic, msg.retained, tt.topic, tt.retained)
			}
		})
	}

	if len(rec.events) != 1 || rec.events[0] != "events/add" {
		t.Errorf("recorded events = %v", rec.events)
	}
}

func TestHandleEvent_PublishError(t *testing.T) {
	pub := &fakePublisher{err: mqtt.ErrNotConnected}
	r, err := New(Config{Publisher: pub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = r.HandleEvent(notify.ConnectedEvent{Source: "datahub"})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("HandleEvent() error = %v, want ErrNotConnected", err)
	}
}

// Relay satisfies notify.Listener and can be driven by a real registry.
func TestRelay_WithRegistry(t *testing.T) {
	r, pub, _ := newTestRelay(t)

	reg := notify.NewRegistry()
	defer reg.Close()
	reg.Register(r)
	reg.Notify(notify.ConnectedEvent{Source: "protect"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.msgs)
		pub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not relayed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if msg := pub.last(t); msg.topic != "graylogic/cloud/protect/status" {
		t.Errorf("topic = %q", msg.topic)
	}
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeSubscriber) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[mqtt.Topics{}.AllPollCommands()]
	f.mu.Unlock()
	if h == nil {
		t.Fatal("no poll command subscription")
	}
	return h(topic, payload)
}

type pollCall struct{ subject, kind string }

type fakePoller struct {
	source string
	calls  chan pollCall
}

func (f *fakePoller) Source() string { return f.source }

func (f *fakePoller) PollCommand(_ context.Context, subject, kind string) error {
	f.calls <- pollCall{subject: subject, kind: kind}
	return nil
}

func TestRouter(t *testing.T) {
	sub := &fakeSubscriber{}
	datahub := &fakePoller{source: "datahub", calls: make(chan pollCall, 4)}

	rt := NewRouter(sub, 1, nil)
	if err := rt.Add(datahub); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := rt.Add(datahub); !errors.Is(err, ErrDuplicateSource) {
		t.Errorf("second Add() error = %v, want ErrDuplicateSource", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
		want    *pollCall
	}{
		{"all sites", "graylogic/cloud/datahub/poll/hourly", "", nil, &pollCall{"", "hourly"}},
		{"one site", "graylogic/cloud/datahub/poll/daily", `{"subject":"home"}`, nil, &pollCall{"home", "daily"}},
		{"unknown source", "graylogic/cloud/weather/poll/daily", "", ErrUnknownSource, nil},
		{"bad payload", "graylogic/cloud/datahub/poll/daily", "{", ErrInvalidCommand, nil},
		{"bad topic", "graylogic/cloud/datahub/status", "", ErrInvalidCommand, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sub.deliver(t, tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handler error = %v, want %v", err, tt.wantErr)
			}
			if tt.want == nil {
				return
			}
			select {
			case got := <-datahub.calls:
				if got != *tt.want {
					t.Errorf("PollCommand(%q, %q), want %+v", got.subject, got.kind, *tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("PollCommand not called")
			}
		})
	}

	if err := rt.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if len(sub.handlers) != 0 {
		t.Errorf("subscriptions after Stop = %d", len(sub.handlers))
	}
}

func TestRouter_StopRacesDelivery(t *testing.T) {
	sub := &fakeSubscriber{}
	datahub := &fakePoller{source: "datahub", calls: make(chan pollCall, 64)}

	rt := NewRouter(sub, 1, nil)
	if err := rt.Add(datahub); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sub.mu.Lock()
	handler := sub.handlers[mqtt.Topics{}.AllPollCommands()]
	sub.mu.Unlock()

	const deliveries = 32
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
	)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := handler("graylogic/cloud/datahub/poll/hourly", nil)
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, ErrRouterStopped):
				rejected.Add(1)
			}
		}()
	}
	if err := rt.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	wg.Wait()

	if n := rejected.Load(); n != 0 {
		t.Errorf("%d deliveries failed with an error other than ErrRouterStopped", n)
	}
	// Every accepted poll finished before Stop returned.
	if got := len(datahub.calls); got != int(accepted.Load()) {
		t.Errorf("polls run = %d, accepted = %d", got, accepted.Load())
	}
	if err := handler("graylogic/cloud/datahub/poll/daily", nil); !errors.Is(err, ErrRouterStopped) {
		t.Errorf("handler after Stop error = %v, want ErrRouterStopped", err)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	protect := &fakePoller{source: "protect", calls: make(chan pollCall, 1)}
	rt := NewRouter(&fakeSubscriber{}, 0, nil)
	if err := rt.Add(protect); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := rt.Dispatch(context.Background(), "protect", "", "cameras"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := <-protect.calls; got.kind != "cameras" {
		t.Errorf("kind = %q", got.kind)
	}
	if err := rt.Dispatch(context.Background(), "datahub", "", "daily"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownSource", err)
	}
	if err := rt.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}
