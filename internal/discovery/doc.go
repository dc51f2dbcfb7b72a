// Package discovery finds SmartSDR radios on the local network.
//
// Radios announce themselves with VITA-49 packets on UDP port 4992. The
// announcement carries the Flex class id (OUI 0x001c2d, packet class 0xffff)
// and a space-separated key=value payload describing the radio and the GUI
// clients currently attached to it.
package discovery
