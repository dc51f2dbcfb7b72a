package status

import (
	"strconv"
	"strings"
)

// ParseHex parses a hexadecimal id with or without a 0x prefix.
func ParseHex(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ParseFrequencyMHz accepts a frequency in Hz or MHz. Values of 1e6 and
// above are Hz.
func ParseFrequencyMHz(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if v >= 1e6 {
		return v / 1e6, true
	}
	return v, true
}

// ParseBandwidthHz accepts a bandwidth in MHz or Hz. Values below 1000 are
// fractional MHz, anything else is Hz. Zero and negative values are invalid.
func ParseBandwidthHz(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if v < 1000 {
		return v * 1e6, true
	}
	return v, true
}
