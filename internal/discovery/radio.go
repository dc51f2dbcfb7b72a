package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// Port is the UDP discovery port and the TCP command port.
const Port = 4992

// Radio is a radio endpoint parsed from a discovery announcement.
type Radio struct {
	IP       string
	Port     int
	Model    string
	Serial   string
	Version  string
	Nickname string
	Callsign string
	Status   string

	GUIClientIDs      []string
	GUIClientHandles  []string
	GUIClientPrograms []string
	GUIClientStations []string
	GUIClientHosts    []string
	GUIClientIPs      []string

	// Fields holds every token of the announcement, known or not.
	Fields map[string]string
}

// Address returns the command channel address.
func (r Radio) Address() string {
	port := r.Port
	if port == 0 {
		port = Port
	}
	return net.JoinHostPort(r.IP, strconv.Itoa(port))
}

// FirmwareVersion parses the advertised firmware version.
func (r Radio) FirmwareVersion() (*version.Version, error) {
	if r.Version == "" {
		return nil, fmt.Errorf("radio did not advertise a version")
	}
	return version.NewVersion(r.Version)
}

// Label is the human readable source name used in logs and status.
func (r Radio) Label() string {
	if r.Serial == "" {
		return fmt.Sprintf("%s @ %s", r.Model, r.IP)
	}
	return fmt.Sprintf("%s %s @ %s", r.Model, r.Serial, r.IP)
}

// ParsePayload builds a Radio from the announcement text. fallbackIP is used
// when the payload carries no ip token.
func ParsePayload(text, fallbackIP string) Radio {
	kv := tokens(text)

	r := Radio{
		IP:       valueOr(kv, "ip", fallbackIP),
		Port:     Port,
		Model:    valueOr(kv, "model", "unknown"),
		Serial:   kv["serial"],
		Version:  kv["version"],
		Nickname: kv["nickname"],
		Callsign: kv["callsign"],
		Status:   kv["status"],
		Fields:   kv,

		GUIClientIDs:      splitList(kv["gui_client_ids"]),
		GUIClientHandles:  splitList(kv["gui_client_handles"]),
		GUIClientPrograms: splitList(kv["gui_client_programs"]),
		GUIClientStations: splitList(kv["gui_client_stations"]),
		GUIClientHosts:    splitList(kv["gui_client_hosts"]),
		GUIClientIPs:      splitList(kv["gui_client_ips"]),
	}
	if p, err := strconv.Atoi(kv["port"]); err == nil && p > 0 {
		r.Port = p
	}
	return r
}

// Payload renders the radio back into announcement text.
func (r Radio) Payload() string {
	parts := []string{
		"model=" + r.Model,
		"serial=" + r.Serial,
		"version=" + r.Version,
		"ip=" + r.IP,
		"port=" + strconv.Itoa(r.Port),
	}
	optional := []struct{ key, value string }{
		{"nickname", r.Nickname},
		{"callsign", r.Callsign},
		{"status", r.Status},
		{"gui_client_ids", strings.Join(r.GUIClientIDs, ",")},
		{"gui_client_handles", strings.Join(r.GUIClientHandles, ",")},
		{"gui_client_programs", strings.Join(r.GUIClientPrograms, ",")},
		{"gui_client_stations", strings.Join(r.GUIClientStations, ",")},
		{"gui_client_hosts", strings.Join(r.GUIClientHosts, ",")},
		{"gui_client_ips", strings.Join(r.GUIClientIPs, ",")},
	}
	for _, o := range optional {
		if o.value != "" {
			parts = append(parts, o.key+"="+o.value)
		}
	}
	return strings.Join(parts, " ")
}

// Summary renders the announcement the way operators read it in logs.
func (r Radio) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Discovery response:\n")
	fmt.Fprintf(&b, "  model=%s nickname=%s callsign=%s\n", r.Model, orNA(r.Nickname), orNA(r.Callsign))
	fmt.Fprintf(&b, "  ip=%s status=%s version=%s\n", r.Address(), valueOr(r.Fields, "status", "unknown"), orNA(r.Version))

	inUse := valueOr(r.Fields, "inuse_host", valueOr(r.Fields, "inuse_ip", "n/a"))
	fmt.Fprintf(&b, "  in_use_by=%s available_clients=%s", inUse, valueOr(r.Fields, "available_clients", "n/a"))

	count := maxLen(r.GUIClientIPs, r.GUIClientHosts, r.GUIClientPrograms, r.GUIClientStations, r.GUIClientHandles, r.GUIClientIDs)
	if count > 0 {
		fmt.Fprintf(&b, "\n  gui_clients=%d", count)
	}
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "\n    [%d] ip=%s host=%s program=%s station=%s handle=%s",
			i, at(r.GUIClientIPs, i), at(r.GUIClientHosts, i), at(r.GUIClientPrograms, i),
			at(r.GUIClientStations, i), at(r.GUIClientHandles, i))
		if i < len(r.GUIClientIDs) {
			fmt.Fprintf(&b, " client_id=%s", r.GUIClientIDs[i])
		}
	}
	return b.String()
}

func tokens(text string) map[string]string {
	kv := make(map[string]string)
	for _, tok := range strings.Fields(text) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kv
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func valueOr(kv map[string]string, key, def string) string {
	if v, ok := kv[key]; ok && v != "" {
		return v
	}
	return def
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func at(list []string, i int) string {
	if i < len(list) {
		return orNA(list[i])
	}
	return "n/a"
}

func maxLen(lists ...[]string) int {
	n := 0
	for _, l := range lists {
		if len(l) > n {
			n = len(l)
		}
	}
	return n
}
