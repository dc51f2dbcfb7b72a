package discovery

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/radio-control/daxiq/internal/vita"
)

func discoveryDatagram(class vita.ClassID, payload string) []byte {
	hdr := vita.Header{Type: vita.TypeExtDataStream, HasClassID: true, SizeWords: 7}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:], hdr.Word())
	binary.BigEndian.PutUint32(buf[4:], 0x800)
	binary.BigEndian.PutUint64(buf[8:], uint64(class))
	return append(buf, []byte(payload)...)
}

func TestParseReplyFields(t *testing.T) {
	payload := "discovery_protocol_version=3.0.0.2 model=FLEX-6600 serial=1234-5678-6600-0001 version=3.4.35.141 " +
		"nickname=Shack callsign=N0CALL ip=192.168.1.50 port=4992 status=Available " +
		"gui_client_ids=4F3A,9B2C gui_client_handles=0x1A2B,0x3C4D gui_client_programs=SmartSDR-Win,SmartSDR-Mac\x00\x00\x00"
	data := discoveryDatagram(vita.MakeClassID(vita.FlexOUI, 0x534c, vita.DiscoveryPacketClass), payload)

	r, err := ParseReply(data, "10.0.0.9")
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}

	if r.IP != "192.168.1.50" {
		t.Errorf("Expected ip 192.168.1.50, got %s", r.IP)
	}
	if r.Port != 4992 {
		t.Errorf("Expected port 4992, got %d", r.Port)
	}
	if r.Model != "FLEX-6600" {
		t.Errorf("Expected model FLEX-6600, got %s", r.Model)
	}
	if r.Serial != "1234-5678-6600-0001" {
		t.Errorf("Expected serial, got %s", r.Serial)
	}
	if r.Version != "3.4.35.141" {
		t.Errorf("Expected version 3.4.35.141, got %s", r.Version)
	}
	if len(r.GUIClientIDs) != 2 || r.GUIClientIDs[0] != "4F3A" || r.GUIClientIDs[1] != "9B2C" {
		t.Errorf("Expected gui ids [4F3A 9B2C], got %v", r.GUIClientIDs)
	}
	if len(r.GUIClientHandles) != 2 || r.GUIClientHandles[1] != "0x3C4D" {
		t.Errorf("Expected gui handles [0x1A2B 0x3C4D], got %v", r.GUIClientHandles)
	}
	if r.Fields["discovery_protocol_version"] != "3.0.0.2" {
		t.Errorf("Expected unknown keys to be kept, got %v", r.Fields)
	}
	if strings.Contains(r.GUIClientPrograms[1], "\x00") {
		t.Error("Expected trailing NULs to be stripped")
	}
}

func TestParseReplyDefaults(t *testing.T) {
	data := discoveryDatagram(vita.MakeClassID(vita.FlexOUI, 0, vita.DiscoveryPacketClass), "nickname=bare")

	r, err := ParseReply(data, "10.0.0.9")
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if r.IP != "10.0.0.9" {
		t.Errorf("Expected sender ip fallback, got %s", r.IP)
	}
	if r.Model != "unknown" {
		t.Errorf("Expected model unknown, got %s", r.Model)
	}
	if r.Serial != "" || r.Version != "" {
		t.Errorf("Expected empty serial and version, got %q %q", r.Serial, r.Version)
	}
	if len(r.GUIClientIDs) != 0 {
		t.Errorf("Expected no gui ids, got %v", r.GUIClientIDs)
	}
}

func TestParseReplyRejects(t *testing.T) {
	noClass := discoveryDatagram(vita.MakeClassID(vita.FlexOUI, 0, vita.DiscoveryPacketClass), "model=X")
	noClass[0] &^= 0x08 // clear class id bit

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"too short", []byte{1, 2, 3, 4, 5, 6, 7}, vita.ErrShortPacket},
		{"no class id", noClass, ErrNoClassID},
		{"class id cut", discoveryDatagram(0, "")[:12], vita.ErrTruncated},
		{"other oui", discoveryDatagram(vita.MakeClassID(0x0012a2, 0, vita.DiscoveryPacketClass), "model=X"), ErrNotDiscovery},
		{"other class", discoveryDatagram(vita.MakeClassID(vita.FlexOUI, 0, 0x8003), "model=X"), ErrNotDiscovery},
		{"probe", BuildProbe(), ErrNotDiscovery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply(tt.data, "10.0.0.1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildReplyRoundTrip(t *testing.T) {
	in := Radio{
		IP:           "127.0.0.1",
		Port:         4993,
		Model:        "FLEX-8600",
		Serial:       "SIM-0001",
		Version:      "3.8.19.0",
		Nickname:     "sim",
		GUIClientIDs: []string{"abc", "def"},
	}

	out, err := ParseReply(BuildReply(in), "10.1.1.1")
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if out.Address() != "127.0.0.1:4993" {
		t.Errorf("Expected 127.0.0.1:4993, got %s", out.Address())
	}
	if out.Model != in.Model || out.Serial != in.Serial || out.Version != in.Version {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
	if len(out.GUIClientIDs) != 2 {
		t.Errorf("Expected 2 gui ids, got %v", out.GUIClientIDs)
	}
}

func TestIsProbe(t *testing.T) {
	if !IsProbe(BuildProbe()) {
		t.Error("Expected probe to be recognised")
	}
	if IsProbe(BuildReply(Radio{Model: "X"})) {
		t.Error("Expected announcement not to be a probe")
	}
	if IsProbe([]byte{0, 1}) {
		t.Error("Expected short datagram not to be a probe")
	}
}

func TestFirmwareVersion(t *testing.T) {
	v, err := Radio{Version: "3.4.35.141"}.FirmwareVersion()
	if err != nil {
		t.Fatalf("FirmwareVersion failed: %v", err)
	}
	if v.Segments()[0] != 3 {
		t.Errorf("Expected major 3, got %v", v.Segments())
	}

	if _, err := (Radio{}).FirmwareVersion(); err == nil {
		t.Error("Expected error for empty version")
	}
}

func TestSummaryListsGUIClients(t *testing.T) {
	r := ParsePayload("model=FLEX-6400 ip=10.0.0.2 gui_client_ids=aa,bb gui_client_stations=Desk", "")
	s := r.Summary()

	if !strings.Contains(s, "gui_clients=2") {
		t.Errorf("Expected gui client count in summary, got %q", s)
	}
	if !strings.Contains(s, "station=Desk") || !strings.Contains(s, "client_id=bb") {
		t.Errorf("Expected per-client lines in summary, got %q", s)
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to pick port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestDiscoverFindsAnnouncement(t *testing.T) {
	port := freeUDPPort(t)
	reply := BuildReply(Radio{IP: "127.0.0.1", Port: 4992, Model: "FLEX-6700", Serial: "S1"})

	go func() {
		time.Sleep(150 * time.Millisecond)
		conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("junk"))
		_, _ = conn.Write(reply)
	}()

	radios, err := Discover(context.Background(), Options{Port: port, Timeout: 2 * time.Second, NoProbe: true})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(radios) != 1 {
		t.Fatalf("Expected 1 radio, got %d", len(radios))
	}
	if radios[0].Model != "FLEX-6700" {
		t.Errorf("Expected FLEX-6700, got %s", radios[0].Model)
	}
}

func TestDiscoverTimeoutIsEmpty(t *testing.T) {
	port := freeUDPPort(t)

	start := time.Now()
	radios, err := Discover(context.Background(), Options{Port: port, Timeout: 200 * time.Millisecond, Broadcast: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Expected no error on timeout, got %v", err)
	}
	if len(radios) != 0 {
		t.Errorf("Expected no radios, got %d", len(radios))
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Discover overran its timeout: %v", time.Since(start))
	}
}
