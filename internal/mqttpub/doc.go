// Package mqttpub publishes the session snapshot to an MQTT broker.
//
// Topics, under the configured prefix:
//
//	<prefix>/status   full snapshot, every interval
//	<prefix>/stream   retained, whenever the stream id or state changes
package mqttpub
