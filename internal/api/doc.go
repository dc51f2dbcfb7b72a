// Package api implements the daxiqd HTTP API.
//
// The API is read-mostly: session status, receiver counters, known
// panadapters, the telemetry event stream and a binary IQ websocket feed.
// Two control endpoints start and stop the session. Every JSON response
// uses the envelope in response.go.
package api
