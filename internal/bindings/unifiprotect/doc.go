// Package unifiprotect talks to the UniFi Protect integration API on a
// local NVR.
//
// REST calls (metadata, cameras, snapshots, PTZ, file uploads) go through
// the shared throttled client. Two WebSocket subscriptions, events and
// devices, are kept open by Run and re-established after ReconnectDelay
// whenever they drop. Every frame is published as a notify.StreamEvent.
//
// The NVR authenticates with an X-API-KEY header. Controllers normally
// present a self-signed certificate, so TLS verification can be disabled
// per binding.
package unifiprotect
