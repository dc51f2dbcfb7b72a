package setup

import (
	"fmt"
	"sort"
	"strings"
)

// State is the negotiation state.
type State int

const (
	StateIdle State = iota
	StateResourceDiscoveryPending
	StateResourceSelected
	StateStreamCreated
	StateTuned
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResourceDiscoveryPending:
		return "resource_discovery_pending"
	case StateResourceSelected:
		return "resource_selected"
	case StateStreamCreated:
		return "stream_created"
	case StateTuned:
		return "tuned"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Panadapter is what status lines have told us about one panadapter. Entries
// only ever gain information during a session.
type Panadapter struct {
	ID           uint32  `json:"id"`
	CenterMHz    float64 `json:"center_mhz,omitempty"`
	HasCenter    bool    `json:"-"`
	BandwidthHz  float64 `json:"bandwidth_hz,omitempty"`
	HasBandwidth bool    `json:"-"`
	Bandwidth    string  `json:"bandwidth,omitempty"`
	Antenna      string  `json:"ant,omitempty"`
	RxAntenna    string  `json:"rxant,omitempty"`
	StreamID     string  `json:"stream_id,omitempty"`
}

func (p Panadapter) describe() string {
	parts := []string{fmt.Sprintf("pan=0x%08x", p.ID)}
	if p.HasCenter {
		parts = append(parts, fmt.Sprintf("center=%.6f MHz", p.CenterMHz))
	}
	if p.Bandwidth != "" {
		parts = append(parts, "bandwidth="+p.Bandwidth)
	}
	if ant := p.Antenna; ant != "" {
		parts = append(parts, "ant="+ant)
	} else if p.RxAntenna != "" {
		parts = append(parts, "ant="+p.RxAntenna)
	}
	if p.StreamID != "" {
		parts = append(parts, "stream_id="+p.StreamID)
	}
	return strings.Join(parts, " ")
}

// Session is the negotiated stream state.
type Session struct {
	State    State  `json:"state"`
	PanID    uint32 `json:"pan_id"`
	StreamID uint32 `json:"stream_id"`

	// SliceID is meaningful only when HasSlice. Slice 0 means the radio has
	// not assigned one.
	SliceID  uint32 `json:"slice_id"`
	HasSlice bool   `json:"has_slice"`

	SliceFrequencyMHz float64 `json:"slice_frequency_mhz,omitempty"`
	HasSliceFrequency bool    `json:"-"`
	PanFrequencyMHz   float64 `json:"pan_frequency_mhz,omitempty"`
	HasPanFrequency   bool    `json:"-"`
	PanBandwidthHz    float64 `json:"pan_bandwidth_hz,omitempty"`
	HasPanBandwidth   bool    `json:"-"`
}

// SliceAssigned reports whether the radio gave the stream a real slice.
func (s Session) SliceAssigned() bool {
	return s.HasSlice && s.SliceID != 0
}

// panSignature identifies the reportable content of the known panadapters.
func panSignature(pans map[uint32]*Panadapter) string {
	ids := sortedIDs(pans)
	var b strings.Builder
	for _, id := range ids {
		p := pans[id]
		fmt.Fprintf(&b, "%d|%v|%g|%s|%s|%s;", id, p.HasCenter, p.CenterMHz, p.Bandwidth, p.Antenna, p.RxAntenna)
	}
	return b.String()
}

func sortedIDs(pans map[uint32]*Panadapter) []uint32 {
	ids := make([]uint32, 0, len(pans))
	for id := range pans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
