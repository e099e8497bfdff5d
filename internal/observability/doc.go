// Package observability exposes cloud link metrics in Prometheus format.
//
// Collector is a notify.Listener: register it with the binding registry
// and serve Handler on /metrics. It uses its own prometheus.Registry so
// tests and multiple instances never collide on the global one.
package observability
