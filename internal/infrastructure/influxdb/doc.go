// Package influxdb records cloud link activity in InfluxDB v2.
//
// Writes are non-blocking: points are batched by the client library and
// flushed every FlushInterval seconds or BatchSize points. Asynchronous
// write failures are reported through SetOnError.
//
// Measurements:
//
//	cloud_forecast  tags: source, subject, kind      fields: every numeric forecast parameter
//	cloud_budget    tags: source, limiter            fields: used, limit, remaining
//	cloud_event     tags: source, channel, action    fields: count
//	cloud_link      tags: source, state              fields: up
//
// A disabled configuration returns ErrDisabled from Connect; callers treat
// that as "no time-series output".
package influxdb
