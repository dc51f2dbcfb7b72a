// Package vita implements the VITA-49 packet codec used by SmartSDR radios.
//
// The radio frames both its discovery announcements and its DAXIQ sample
// streams as VITA-49 packets: a big-endian header word, a stream identifier,
// an optional class identifier, optional integer and fractional timestamps,
// a payload and an optional trailer word. DAXIQ payloads carry little-endian
// IEEE-754 float32 I/Q pairs.
//
// References:
//   - ANSI/VITA 49.0 §6.1: IF Data packet structure
//   - SmartSDR DAXIQ: payload endianness and Flex OUI 0x001c2d
package vita
