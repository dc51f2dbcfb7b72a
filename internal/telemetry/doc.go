// Package telemetry streams session events to HTTP clients as Server-Sent
// Events.
//
// Events carry a per-source monotonic id and are kept in a bounded ring per
// source so a reconnecting client can resume with Last-Event-ID.
package telemetry
