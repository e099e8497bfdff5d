package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
)

const namespace = "cloudlink"

// Collector turns binding events into Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	responses     *prometheus.CounterVec
	frames        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	apiErrors     *prometheus.CounterVec
	authenticated *prometheus.GaugeVec
	connected     *prometheus.GaugeVec
	budgetUsed    *prometheus.GaugeVec
	budgetLimit   *prometheus.GaugeVec
}

// NewCollector creates a Collector with Go runtime and process metrics
// already registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Binding events by source and type.",
		}, []string{"source", "event"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_responses_total",
			Help:      "Successful poll responses by source and kind.",
		}, []string{"source", "kind"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Event stream frames by source, channel and action.",
		}, []string{"source", "channel", "action"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "communication_failures_total",
			Help:      "Transport failures talking to the provider.",
		}, []string{"source"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Provider responses that were errors or failed to decode, by status.",
		}, []string{"source", "status"}),
		authenticated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated",
			Help:      "1 when the provider accepts the credential.",
		}, []string{"source"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while requests to the provider succeed.",
		}, []string{"source"}),
		budgetUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_used",
			Help:      "Requests spent from today's budget.",
		}, []string{"source", "limiter"}),
		budgetLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_limit",
			Help:      "Daily request limit.",
		}, []string{"source", "limiter"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.events, c.responses, c.frames, c.failures, c.apiErrors,
		c.authenticated, c.connected, c.budgetUsed, c.budgetLimit,
	)
	return c
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveBudget seeds the budget gauges before the first RateLimitEvent.
func (c *Collector) ObserveBudget(source string, b limiter.Budget) {
	c.budgetUsed.WithLabelValues(source, b.ID).Set(float64(b.Used))
	c.budgetLimit.WithLabelValues(source, b.ID).Set(float64(b.DailyLimit))
}

// HandleEvent implements notify.Listener.
func (c *Collector) HandleEvent(ev notify.Event) error {
	source := ev.EventSource()
	c.events.WithLabelValues(source, notify.EventName(ev)).Inc()

	switch e := ev.(type) {
	case notify.AuthEvent:
		c.authenticated.WithLabelValues(source).Set(boolGauge(e.Authenticated))
	case notify.ConnectedEvent:
		c.connected.WithLabelValues(source).Set(1)
	case notify.CommunicationFailureEvent:
		c.connected.WithLabelValues(source).Set(0)
		c.failures.WithLabelValues(source).Inc()
	case notify.APIErrorEvent:
		c.apiErrors.WithLabelValues(source, strconv.Itoa(e.StatusCode)).Inc()
		if e.StatusCode >= http.StatusInternalServerError {
			c.connected.WithLabelValues(source).Set(0)
		}
	case notify.RateLimitEvent:
		c.ObserveBudget(source, e.Budget)
	case notify.ResponseEvent:
		c.responses.WithLabelValues(source, e.Kind).Inc()
	case notify.StreamEvent:
		c.frames.WithLabelValues(source, e.Channel, e.Action).Inc()
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
