package smartsdr

import (
	"context"
	"testing"
	"time"
)

func TestGUIClientsFromStatus(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("S0|client 0x2 connected local_ptt=1 client_id=BBBB program=SmartSDR-Win station=Beta")
		fr.write("S0|client 0x1 connected client_id=AAAA program=SmartSDR-Win station=Alpha")
		fr.write("S0|client 0x3 connected client_id=CCCC program=daxiq station=Gamma")
		fr.write("R" + seq + "|0|")
	})
	c := dialFake(t, fr, time.Second)

	if _, err := c.Send(context.Background(), "sub client all"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ids := c.GUIClientIDs()
	if len(ids) != 2 || ids[0] != "AAAA" || ids[1] != "BBBB" {
		t.Errorf("Expected [AAAA BBBB], got %v", ids)
	}
}

func TestGUIClientDisconnect(t *testing.T) {
	c := New("unused:0", Options{})
	c.captureClient("S0|client 0x1 connected client_id=AAAA program=SmartSDR-Win station=Alpha")
	if len(c.GUIClients()) != 1 {
		t.Fatalf("Expected 1 GUI client, got %d", len(c.GUIClients()))
	}
	c.captureClient("S0|client 0x1 disconnected")
	if len(c.GUIClients()) != 0 {
		t.Errorf("Expected GUI client removed, got %v", c.GUIClients())
	}
}

func TestRefreshClientList(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		if cmd == "client list" {
			fr.write("R" + seq + "|0|0x1 client_id=AAAA program=SmartSDR-Mac station=Mac gui=1")
			return
		}
		fr.write("R" + seq + "|0|")
	})
	c := dialFake(t, fr, time.Second)

	lines, parsed, err := c.RefreshClientList(context.Background())
	if err != nil {
		t.Fatalf("RefreshClientList failed: %v", err)
	}
	if lines != 1 || parsed != 1 {
		t.Errorf("Expected 1 line and 1 GUI client, got %d and %d", lines, parsed)
	}
	if ids := c.GUIClientIDs(); len(ids) != 1 || ids[0] != "AAAA" {
		t.Errorf("Expected [AAAA], got %v", ids)
	}
}
