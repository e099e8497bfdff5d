package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementForecast = "cloud_forecast"
	MeasurementBudget   = "cloud_budget"
	MeasurementEvent    = "cloud_event"
	MeasurementLink     = "cloud_link"
)

// WriteForecastStep records one forecast time step at its forecast time.
// Steps without numeric values are skipped.
func (c *Client) WriteForecastStep(source, subject, kind string, at time.Time, values map[string]float64) {
	if !c.IsConnected() || len(values) == 0 {
		return
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementForecast,
		map[string]string{"source": source, "subject": subject, "kind": kind},
		fields, at))
}

// WriteBudget records a limiter's daily usage.
func (c *Client) WriteBudget(source, limiterID string, used, limit int) {
	if !c.IsConnected() {
		return
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementBudget,
		map[string]string{"source": source, "limiter": limiterID},
		map[string]any{"used": used, "limit": limit, "remaining": remaining},
		c.now()))
}

// WriteStreamEvent counts one stream frame.
func (c *Client) WriteStreamEvent(source, channel, action string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementEvent,
		map[string]string{"source": source, "channel": channel, "action": action},
		map[string]any{"count": 1},
		c.now()))
}

// WriteLinkState records a binding's link or authentication transition,
// e.g. state "connected" or "authenticated" with up false.
func (c *Client) WriteLinkState(source, state string, up bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementLink,
		map[string]string{"source": source, "state": state},
		map[string]any{"up": up},
		c.now()))
}
