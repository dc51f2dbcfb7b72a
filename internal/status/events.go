package status

import (
	"strconv"
	"strings"
)

// Kind tags an Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindStream
	KindSlice
	KindPan
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindSlice:
		return "slice"
	case KindPan:
		return "pan"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Event is one parsed status line.
type Event interface {
	Kind() Kind
	Raw() string
}

// Line holds what every status line carries.
type Line struct {
	Text   string // the full line as received
	Source string // handle between the leading S and the first |
	Fields map[string]string
}

func (l Line) Raw() string { return l.Text }

// StreamStatus reports a stream object, usually a DAXIQ stream.
type StreamStatus struct {
	Line
	StreamID uint32
	DAXIQ    bool
	Removed  bool

	// Slice is valid when HasSlice; zero means no slice is assigned yet.
	Slice    uint32
	HasSlice bool

	// Pan is valid when HasPan. Zero is reported by the radio but never
	// names a real panadapter.
	Pan    uint32
	HasPan bool
}

func (StreamStatus) Kind() Kind { return KindStream }

// SliceStatus reports a slice receiver.
type SliceStatus struct {
	Line
	Index        uint32
	FrequencyMHz float64
	HasFrequency bool
}

func (SliceStatus) Kind() Kind { return KindSlice }

// PanStatus reports a panadapter ("display pan").
type PanStatus struct {
	Line
	ID           uint32
	CenterMHz    float64
	HasCenter    bool
	BandwidthHz  float64
	HasBandwidth bool
	Bandwidth    string // as reported
	Antenna      string
	RxAntenna    string
	StreamID     string
}

func (PanStatus) Kind() Kind { return KindPan }

// ClientStatus reports a connected client application.
type ClientStatus struct {
	Line
	Handle   string
	ClientID string
	Program  string
	Station  string
	Host     string
	IP       string
	GUI      bool
}

func (ClientStatus) Kind() Kind { return KindClient }

// Unknown is any line the parser does not model.
type Unknown struct {
	Line
}

func (Unknown) Kind() Kind { return KindUnknown }

// Parse turns a raw S or V line into an Event. It never fails; lines it
// cannot interpret come back as Unknown.
func Parse(raw string) Event {
	line := Line{Text: raw}
	head, payload, ok := strings.Cut(raw, "|")
	if !ok {
		return Unknown{Line: line}
	}
	if len(head) > 0 {
		line.Source = head[1:]
	}
	payload = strings.TrimSpace(payload)
	tokens := strings.Fields(payload)
	line.Fields = keyValues(tokens)
	if len(tokens) == 0 {
		return Unknown{Line: line}
	}

	switch tokens[0] {
	case "stream":
		if ev, ok := parseStream(line, payload, tokens); ok {
			return ev
		}
	case "slice":
		if ev, ok := parseSlice(line, tokens); ok {
			return ev
		}
	case "display":
		if ev, ok := parsePan(line, tokens); ok {
			return ev
		}
	case "client":
		if ev, ok := parseClient(line, tokens); ok {
			return ev
		}
	default:
		// Some firmware embeds the client record after another object.
		if _, rest, found := strings.Cut(payload, " client "); found {
			if ev, ok := ParseClient("client " + rest); ok {
				ev.Text = raw
				ev.Source = line.Source
				return ev
			}
		}
	}
	return Unknown{Line: line}
}

// ParseClient parses a bare "client <handle> key=value ..." record, as found in
// status lines and in the reply to "client list".
func ParseClient(record string) (ClientStatus, bool) {
	tokens := strings.Fields(strings.TrimSpace(record))
	line := Line{Text: record, Fields: keyValues(tokens)}
	if len(tokens) == 0 || tokens[0] != "client" {
		return ClientStatus{}, false
	}
	return parseClient(line, tokens)
}

func parseStream(line Line, payload string, tokens []string) (StreamStatus, bool) {
	if len(tokens) < 2 {
		return StreamStatus{}, false
	}
	id, ok := ParseHex(tokens[1])
	if !ok {
		return StreamStatus{}, false
	}

	ev := StreamStatus{
		Line:     line,
		StreamID: id,
		DAXIQ:    strings.Contains(payload, "dax_iq"),
	}
	for _, tok := range tokens[2:] {
		if tok == "removed" {
			ev.Removed = true
		}
	}
	if v, ok := line.Fields["slice"]; ok {
		ev.Slice, ev.HasSlice = ParseHex(v)
	}
	if v, ok := line.Fields["pan"]; ok {
		ev.Pan, ev.HasPan = ParseHex(v)
	}
	return ev, true
}

func parseSlice(line Line, tokens []string) (SliceStatus, bool) {
	if len(tokens) < 2 {
		return SliceStatus{}, false
	}
	idx, err := strconv.ParseUint(tokens[1], 10, 32)
	if err != nil {
		return SliceStatus{}, false
	}
	ev := SliceStatus{Line: line, Index: uint32(idx)}
	if v, ok := line.Fields["RF_frequency"]; ok {
		ev.FrequencyMHz, ev.HasFrequency = ParseFrequencyMHz(v)
	}
	return ev, true
}

func parsePan(line Line, tokens []string) (PanStatus, bool) {
	if len(tokens) < 3 || tokens[1] != "pan" {
		return PanStatus{}, false
	}
	id, ok := ParseHex(tokens[2])
	if !ok {
		return PanStatus{}, false
	}
	ev := PanStatus{
		Line:      line,
		ID:        id,
		Bandwidth: line.Fields["bandwidth"],
		Antenna:   line.Fields["ant"],
		RxAntenna: line.Fields["rxant"],
		StreamID:  line.Fields["stream_id"],
	}
	if v, ok := line.Fields["center"]; ok {
		ev.CenterMHz, ev.HasCenter = ParseFrequencyMHz(v)
	}
	if ev.Bandwidth != "" {
		ev.BandwidthHz, ev.HasBandwidth = ParseBandwidthHz(ev.Bandwidth)
	}
	return ev, true
}

func parseClient(line Line, tokens []string) (ClientStatus, bool) {
	if len(tokens) < 2 {
		return ClientStatus{}, false
	}
	kv := line.Fields
	ev := ClientStatus{
		Line:     line,
		Handle:   tokens[1],
		ClientID: kv["client_id"],
		Program:  kv["program"],
		Station:  kv["station"],
		Host:     kv["host"],
		IP:       kv["ip"],
	}
	ev.GUI = kv["gui"] == "1" || strings.HasPrefix(ev.Program, "SmartSDR")
	return ev, true
}

func keyValues(tokens []string) map[string]string {
	kv := make(map[string]string)
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kv
}
