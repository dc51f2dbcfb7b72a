package session

import (
	"fmt"
	"time"

	"github.com/radio-control/daxiq/internal/receiver"
)

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	Source       string         `json:"source"`
	Address      string         `json:"address,omitempty"`
	Running      bool           `json:"running"`
	State        string         `json:"state"`
	PanID        string         `json:"pan_id,omitempty"`
	StreamID     string         `json:"stream_id,omitempty"`
	Slice        string         `json:"slice,omitempty"`
	FrequencyMHz float64        `json:"frequency_mhz"`
	BandwidthHz  float64        `json:"bandwidth_hz"`
	UDPPort      int            `json:"udp_port,omitempty"`
	DAXChannel   int            `json:"dax_channel"`
	Firmware     string         `json:"firmware,omitempty"`
	GUIClients   []string       `json:"gui_clients,omitempty"`
	UptimeSec    float64        `json:"uptime_sec"`
	Stats        receiver.Stats `json:"stats"`
}

// Snapshot captures the current session.
func (d *Director) Snapshot() Snapshot {
	sess := d.Session()

	d.mu.Lock()
	snap := Snapshot{
		Source:     d.label,
		Address:    d.addr,
		Running:    d.running,
		UDPPort:    d.port,
		DAXChannel: d.cfg.Radio.DAXChannel,
	}
	if d.running {
		snap.UptimeSec = time.Since(d.startedAt).Seconds()
	}
	client := d.client
	radio := d.radio
	d.mu.Unlock()

	if snap.Source == "" {
		snap.Source = "radio"
	}
	snap.State = sess.State.String()
	if sess.PanID != 0 {
		snap.PanID = fmt.Sprintf("0x%08x", sess.PanID)
	}
	if sess.StreamID != 0 {
		snap.StreamID = fmt.Sprintf("0x%08x", sess.StreamID)
	}
	snap.Slice = sliceLabel(sess)
	snap.FrequencyMHz = d.frequencyMHz(sess)
	snap.BandwidthHz = d.bandwidthHz(sess)
	snap.Stats = d.rx.Stats()

	if radio != nil {
		snap.Firmware = radio.Version
	}
	if client != nil {
		if snap.Firmware == "" {
			snap.Firmware = client.Version()
		}
		snap.GUIClients = client.GUIClientIDs()
	}
	return snap
}

// Map renders the snapshot for telemetry and MQTT payloads.
func (s Snapshot) Map() map[string]interface{} {
	return map[string]interface{}{
		"source":        s.Source,
		"running":       s.Running,
		"state":         s.State,
		"pan_id":        s.PanID,
		"stream_id":     s.StreamID,
		"slice":         s.Slice,
		"frequency_mhz": s.FrequencyMHz,
		"bandwidth_hz":  s.BandwidthHz,
		"udp_port":      s.UDPPort,
		"uptime_sec":    s.UptimeSec,
		"accepted":      s.Stats.Accepted,
		"dropped":       s.Stats.Dropped,
		"missed":        s.Stats.Missed,
	}
}
