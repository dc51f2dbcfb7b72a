// Package status parses unsolicited SmartSDR status lines into typed events.
//
// A status line has the form "S<client handle>|<object> <id> key=value ...".
// Parse recognises stream, slice, panadapter and client records and returns
// everything else as Unknown, so callers can switch on the event type
// instead of matching substrings.
package status
