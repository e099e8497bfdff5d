// Package client is the throttled, authenticated HTTP client shared by
// every cloud binding.
//
// Each call passes through the same admission path:
//
//  1. the daily quota (limiter) grants a slot or the call fails with
//     ErrRateLimitExceeded before touching the network
//  2. a sliding one-second window admits at most MaxRequestsPerSecond
//     calls, blocking the caller (FIFO) until a slot frees
//  3. the auth gate attaches the credential
//  4. the request is sent with an explicit timeout
//  5. the response status updates the auth gate and is classified
//
// Failures are returned to the caller and also published to the notifier
// so every subscriber sees connection loss and authentication changes.
// Nothing is retried here; a retry is a new call and consumes a new slot.
package client
