package metoffice

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TimeLayout is the format of time series timestamps, e.g. "2024-01-01T13:00Z".
const TimeLayout = "2006-01-02T15:04Z"

const (
	// hourlySteps covers the current hour plus the next 24.
	hourlySteps = 25

	// dailySteps covers today plus the next 6 days.
	dailySteps = 7
)

// FeatureCollection is the GeoJSON document returned by /point/hourly and
// /point/daily.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one forecast point.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry holds [longitude, latitude, altitude].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Properties carries the forecast for a point.
type Properties struct {
	Location struct {
		Name string `json:"name"`
	} `json:"location"`
	RequestPointDistance float64    `json:"requestPointDistance"`
	ModelRunDate         string     `json:"modelRunDate"`
	TimeSeries           []TimeStep `json:"timeSeries"`
}

// TimeStep is one entry of a time series. Every numeric parameter
// (screenTemperature, windSpeed10m, dayMaxScreenTemperature ...) lands in
// Values keyed by its API name; non-numeric fields are ignored.
type TimeStep struct {
	Time   time.Time
	Values map[string]float64
}

// UnmarshalJSON decodes a time series entry.
func (ts *TimeStep) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var stamp string
	if err := json.Unmarshal(raw["time"], &stamp); err != nil {
		return fmt.Errorf("time series entry: time: %w", err)
	}
	t, err := time.Parse(TimeLayout, stamp)
	if err != nil {
		return fmt.Errorf("time series entry: %w", err)
	}

	ts.Time = t
	ts.Values = make(map[string]float64, len(raw)-1)
	for k, v := range raw {
		if k == "time" {
			continue
		}
		var f float64
		if json.Unmarshal(v, &f) == nil {
			ts.Values[k] = f
		}
	}
	return nil
}

// MarshalJSON encodes the entry back into the API shape.
func (ts TimeStep) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(ts.Values)+1)
	for k, v := range ts.Values {
		out[k] = v
	}
	out["time"] = ts.Time.UTC().Format(TimeLayout)
	return json.Marshal(out)
}

// Validate checks the collection carries at least one point with a time
// series in ascending order.
func (fc *FeatureCollection) Validate() error {
	if len(fc.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrEmptyForecast)
	}
	series := fc.Features[0].Properties.TimeSeries
	if len(series) == 0 {
		return ErrEmptyForecast
	}
	if !sort.SliceIsSorted(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) }) {
		return fmt.Errorf("metoffice: time series is not in ascending order")
	}
	return nil
}

// Point returns the properties of the first feature, or nil.
func (fc *FeatureCollection) Point() *Properties {
	if len(fc.Features) == 0 {
		return nil
	}
	return &fc.Features[0].Properties
}

// LocationName returns the name the API resolved the coordinates to.
func (fc *FeatureCollection) LocationName() string {
	if p := fc.Point(); p != nil {
		return p.Location.Name
	}
	return ""
}

// Current returns the forecast steps from the one covering now onwards:
// the current hour and the next 24 for hourly, today and the next 6 days
// for daily. Fewer steps are returned when the series is shorter.
func (fc *FeatureCollection) Current(kind string, now time.Time) ([]TimeStep, error) {
	var (
		anchor time.Time
		steps  int
	)
	switch kind {
	case KindHourly:
		anchor = now.UTC().Truncate(time.Hour)
		steps = hourlySteps
	case KindDaily:
		anchor = startOfDay(now)
		steps = dailySteps
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	p := fc.Point()
	if p == nil || len(p.TimeSeries) == 0 {
		return nil, ErrEmptyForecast
	}

	start := CurrentIndex(p.TimeSeries, anchor)
	end := start + steps
	if end > len(p.TimeSeries) {
		end = len(p.TimeSeries)
	}
	return p.TimeSeries[start:end], nil
}

// CurrentIndex returns the position of the last step at or before anchor.
// A series that starts after anchor yields 0.
func CurrentIndex(series []TimeStep, anchor time.Time) int {
	// First step strictly after anchor.
	i := sort.Search(len(series), func(i int) bool { return series[i].Time.After(anchor) })
	if i == 0 {
		return 0
	}
	return i - 1
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
