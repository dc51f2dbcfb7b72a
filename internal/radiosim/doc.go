// Package radiosim is a simulated SmartSDR radio. It answers discovery
// probes, serves the command channel subset used by daxiqd and streams a
// test tone as DAXIQ packets.
package radiosim
