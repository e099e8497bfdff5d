package relay

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/metoffice"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
)

// SourceStatus is published retained on graylogic/cloud/{source}/status.
type SourceStatus struct {
	Source        string `json:"source"`
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	LastError     string `json:"last_error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// BudgetPayload is published retained on graylogic/cloud/{source}/ratelimit.
type BudgetPayload struct {
	Limiter    string `json:"limiter"`
	DailyLimit int    `json:"daily_limit"`
	Used       int    `json:"used"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"reset_at"`
}

func newBudgetPayload(b limiter.Budget) BudgetPayload {
	return BudgetPayload{
		Limiter:    b.ID,
		DailyLimit: b.DailyLimit,
		Used:       b.Used,
		Remaining:  b.Remaining(),
		ResetAt:    b.ResetAt.UTC().Format(time.RFC3339),
	}
}

// ForecastPayload is published retained on
// graylogic/cloud/{source}/forecast/{site}/{kind}.
//
// Steps holds the window starting at the current hour (hourly) or day
// (daily). When the response cannot be decoded as a forecast, Steps is
// empty and Raw carries the response as received.
type ForecastPayload struct {
	Source   string               `json:"source"`
	Site     string               `json:"site"`
	Kind     string               `json:"kind"`
	PollID   int64                `json:"poll_id"`
	Location string               `json:"location,omitempty"`
	Steps    []metoffice.TimeStep `json:"steps,omitempty"`
	Raw      json.RawMessage      `json:"raw,omitempty"`
}

// DataPayload is published retained on graylogic/cloud/{source}/data/{kind}.
type DataPayload struct {
	Source  string          `json:"source"`
	Subject string          `json:"subject"`
	Kind    string          `json:"kind"`
	PollID  int64           `json:"poll_id"`
	Content json.RawMessage `json:"content"`
}

// EventPayload is published on graylogic/cloud/{source}/event/{action}.
type EventPayload struct {
	Source  string          `json:"source"`
	Channel string          `json:"channel"`
	Action  string          `json:"action"`
	Item    json.RawMessage `json:"item,omitempty"`
}
