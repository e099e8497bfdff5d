// Package stream maintains WebSocket event subscriptions to a cloud API.
//
// Connect spends one admission slot on the shared client (stream upgrades
// count against the same quota and throttle as plain requests), performs
// the upgrade with the client's credential and returns a Session once the
// connection is live. Each Session owns one read goroutine and one
// heartbeat goroutine. Frames are JSON objects whose "type" field selects
// the add, update or remove handler; anything else is logged and dropped.
//
// Session states:
//
//	Disconnected -> Connecting -> Connected -> Closing|Error -> Disconnected
//
// A failed heartbeat ping is fatal to the session. The Manager never
// reconnects on its own; the owning binding decides when to call Connect
// again, which replaces the session for that path wholesale.
package stream
