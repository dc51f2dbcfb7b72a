package smartsdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRadio accepts one connection and hands each command to reply.
type fakeRadio struct {
	ln    net.Listener
	conn  net.Conn
	ready chan struct{}
	mu    sync.Mutex
}

func newFakeRadio(t *testing.T, reply func(fr *fakeRadio, seq, cmd string)) *fakeRadio {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	fr := &fakeRadio{ln: ln, ready: make(chan struct{})}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fr.conn = conn
		close(fr.ready)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "C") {
				continue
			}
			seq, cmd, _ := strings.Cut(line[1:], "|")
			reply(fr, seq, cmd)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		if fr.conn != nil {
			fr.conn.Close()
		}
	})
	return fr
}

func (fr *fakeRadio) write(line string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fmt.Fprintf(fr.conn, "%s\n", line)
}

func dialFake(t *testing.T, fr *fakeRadio, timeout time.Duration) *Client {
	t.Helper()
	c, err := Dial(context.Background(), fr.ln.Addr().String(), Options{Timeout: timeout})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	<-fr.ready
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestSendSuccess(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|0|reply to " + cmd)
	})
	c := dialFake(t, fr, time.Second)

	reply, err := c.Send(context.Background(), "info")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply != "reply to info" {
		t.Errorf("Expected 'reply to info', got %q", reply)
	}
}

func TestSendRejectedCarriesStatus(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|50000016|bad")
	})
	c := dialFake(t, fr, time.Second)

	_, err := c.Send(context.Background(), "bogus")
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Expected ErrCommandRejected, got %v", err)
	}
	status, ok := StatusOf(err)
	if !ok || status != 0x50000016 {
		t.Errorf("Expected status 0x50000016, got 0x%08X (ok=%v)", status, ok)
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Command != "bogus" {
		t.Errorf("Expected command 'bogus', got %q", cmdErr.Command)
	}
}

func TestOutOfOrderResponses(t *testing.T) {
	var mu sync.Mutex
	held := map[string]string{}
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		mu.Lock()
		held[seq] = cmd
		n := len(held)
		mu.Unlock()
		if n < 2 {
			return
		}
		// Answer the later command first.
		mu.Lock()
		defer mu.Unlock()
		fr.write("R2|0|" + held["2"])
		fr.write("R1|0|" + held["1"])
	})
	c := dialFake(t, fr, 2*time.Second)

	var wg sync.WaitGroup
	replies := make([]string, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		replies[0], errs[0] = c.Send(context.Background(), "first")
	}()
	// Make sure "first" gets sequence 1.
	time.Sleep(50 * time.Millisecond)
	replies[1], errs[1] = c.Send(context.Background(), "second")
	wg.Wait()

	for i, want := range []string{"first", "second"} {
		if errs[i] != nil {
			t.Fatalf("Send %d failed: %v", i, errs[i])
		}
		if replies[i] != want {
			t.Errorf("Expected reply %q, got %q", want, replies[i])
		}
	}
}

func TestSendTimeoutFreesSlot(t *testing.T) {
	var mu sync.Mutex
	var first string
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		mu.Lock()
		defer mu.Unlock()
		if first == "" {
			first = seq
			return
		}
		// Late reply to the timed out command, then the real one.
		fr.write("R" + first + "|0|late")
		fr.write("R" + seq + "|0|ok")
	})
	c := dialFake(t, fr, 100*time.Millisecond)

	_, err := c.Send(context.Background(), "slow")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Expected ErrCommandTimeout, got %v", err)
	}

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("Expected no pending commands after timeout, got %d", pending)
	}

	reply, err := c.SendTimeout(context.Background(), "fast", time.Second)
	if err != nil {
		t.Fatalf("Send after timeout failed: %v", err)
	}
	if reply != "ok" {
		t.Errorf("Expected 'ok', got %q", reply)
	}
}

func TestNotificationsInOrder(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("S1|slice 0 RF_frequency=14.100000")
		fr.write("V1.4.0.0")
		fr.write("S1|stream 0x20000000 type=dax_iq daxiq_channel=1")
		fr.write("R" + seq + "|0|")
	})
	c := dialFake(t, fr, time.Second)

	var mu sync.Mutex
	var got []string
	c.SetNotificationHandler(func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	})

	if _, err := c.Send(context.Background(), "sub slice all"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []string{
		"S1|slice 0 RF_frequency=14.100000",
		"V1.4.0.0",
		"S1|stream 0x20000000 type=dax_iq daxiq_channel=1",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("Expected %d notifications, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Notification %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if c.Version() != "1.4.0.0" {
		t.Errorf("Expected version 1.4.0.0, got %q", c.Version())
	}
}

func TestSendFirstFallsBack(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		if cmd == "sub pan all" {
			fr.write("R" + seq + "|50000016|")
			return
		}
		fr.write("R" + seq + "|0|")
	})
	c := dialFake(t, fr, time.Second)

	accepted, _, err := c.SendFirst(context.Background(), "sub pan all", "sub pan")
	if err != nil {
		t.Fatalf("SendFirst failed: %v", err)
	}
	if accepted != "sub pan" {
		t.Errorf("Expected 'sub pan' accepted, got %q", accepted)
	}
}

func TestSendFirstAllRejected(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|50000016|")
	})
	c := dialFake(t, fr, time.Second)

	_, _, err := c.SendFirst(context.Background(), "a", "b")
	if !errors.Is(err, ErrAllRejected) {
		t.Errorf("Expected ErrAllRejected, got %v", err)
	}
}

func TestUnmappedStatusWarnedOnce(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|5000ABCD|")
	})
	c := dialFake(t, fr, time.Second)

	if c.UnmappedSeen(0x5000ABCD) {
		t.Fatal("Expected code to be unseen before any response")
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Send(context.Background(), "x"); err == nil {
			t.Fatal("Expected rejection")
		}
	}
	if !c.UnmappedSeen(0x5000ABCD) {
		t.Error("Expected unmapped code to be recorded")
	}
	if c.UnmappedSeen(0x50000016) {
		t.Error("Expected mapped code not to be recorded")
	}
}

func TestSendNotConnected(t *testing.T) {
	c := New("127.0.0.1:1", Options{})
	if _, err := c.Send(context.Background(), "info"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if ip := c.LocalIP(); ip != "0.0.0.0" {
		t.Errorf("Expected 0.0.0.0, got %s", ip)
	}
}

func TestConnectionClosedFailsPending(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.conn.Close()
	})
	c := dialFake(t, fr, 2*time.Second)

	_, err := c.Send(context.Background(), "info")
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestLocalIP(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {})
	c := dialFake(t, fr, time.Second)

	if ip := c.LocalIP(); ip != "127.0.0.1" {
		t.Errorf("Expected 127.0.0.1, got %s", ip)
	}
}

func TestConnectTwiceRejected(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|0|ok")
	})
	c := dialFake(t, fr, time.Second)

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}

	// The original connection keeps working.
	reply, err := c.Send(context.Background(), "info")
	if err != nil {
		t.Fatalf("Send after second Connect failed: %v", err)
	}
	if reply != "ok" {
		t.Errorf("Expected 'ok', got %q", reply)
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	recs []CommandRecord
}

func (o *recordingObserver) CommandObserved(rec CommandRecord) {
	o.mu.Lock()
	o.recs = append(o.recs, rec)
	o.mu.Unlock()
}

func TestObserverSeesCommands(t *testing.T) {
	fr := newFakeRadio(t, func(fr *fakeRadio, seq, cmd string) {
		fr.write("R" + seq + "|0|")
	})
	obs := &recordingObserver{}
	c, err := Dial(context.Background(), fr.ln.Addr().String(), Options{Timeout: time.Second, Observer: obs})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Disconnect()
	<-fr.ready

	if _, err := c.Send(context.Background(), "info"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.recs) != 1 || obs.recs[0].Command != "info" || obs.recs[0].Seq != 1 {
		t.Errorf("Expected one record for 'info' seq 1, got %+v", obs.recs)
	}
}
