package smartsdr

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/radio-control/daxiq/internal/status"
)

// GUIClient is a GUI application attached to the radio, such as SmartSDR.
type GUIClient struct {
	Handle   string
	ClientID string
	Program  string
	Station  string
	Host     string
	IP       string
}

// captureClient records GUI clients announced in status lines so a later
// "client bind" can pick one.
func (c *Client) captureClient(line string) {
	ev, ok := status.Parse(line).(status.ClientStatus)
	if !ok {
		return
	}
	c.recordClient(ev)
}

func (c *Client) recordClient(ev status.ClientStatus) bool {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	if strings.Contains(ev.Raw(), " disconnected") {
		if _, ok := c.gui[ev.Handle]; ok {
			delete(c.gui, ev.Handle)
			log.Printf("[INFO] GUI client %s disconnected", ev.Handle)
		}
		return false
	}
	if !ev.GUI || ev.ClientID == "" {
		return false
	}

	prev, seen := c.gui[ev.Handle]
	next := GUIClient{
		Handle:   ev.Handle,
		ClientID: ev.ClientID,
		Program:  ev.Program,
		Station:  ev.Station,
		Host:     ev.Host,
		IP:       ev.IP,
	}
	c.gui[ev.Handle] = next
	if !seen || prev.ClientID != next.ClientID {
		log.Printf("[INFO] GUI client %s client_id=%s program=%s station=%s", next.Handle, next.ClientID, next.Program, next.Station)
	}
	return true
}

// GUIClients returns the known GUI clients ordered by station then client id.
func (c *Client) GUIClients() []GUIClient {
	c.infoMu.RLock()
	out := make([]GUIClient, 0, len(c.gui))
	for _, g := range c.gui {
		out = append(out, g)
	}
	c.infoMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Station != out[j].Station {
			return out[i].Station < out[j].Station
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// GUIClientIDs returns the client ids of GUIClients in the same order.
func (c *Client) GUIClientIDs() []string {
	clients := c.GUIClients()
	ids := make([]string, 0, len(clients))
	for _, g := range clients {
		ids = append(ids, g.ClientID)
	}
	return ids
}

// RefreshClientList asks the radio for its client list and records any GUI
// clients in the reply. It returns the number of reply lines and the number
// of GUI clients recorded.
func (c *Client) RefreshClientList(ctx context.Context) (int, int, error) {
	reply, err := c.Send(ctx, "client list")
	if err != nil {
		return 0, 0, err
	}

	lines, parsed := 0, 0
	for _, raw := range strings.FieldsFunc(reply, func(r rune) bool { return r == '\n' || r == '\r' }) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		lines++
		record := raw
		if !strings.HasPrefix(record, "client ") {
			record = "client " + record
		}
		ev, ok := status.ParseClient(record)
		if ok && c.recordClient(ev) {
			parsed++
		}
	}
	log.Printf("[DEBUG] client list: %d lines, %d GUI clients", lines, parsed)
	return lines, parsed, nil
}
