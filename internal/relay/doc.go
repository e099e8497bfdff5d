// Package relay connects the cloud bindings to the rest of Gray Logic.
//
// Relay is a notify.Listener. It republishes binding events on MQTT
// (status, rate-limit budget, forecasts, poll data and stream frames) and
// records them in InfluxDB when a recorder is configured.
//
// Router goes the other way: it subscribes to poll command topics and asks
// the matching binding to poll now.
package relay
