package api

import (
	"context"
	"encoding/binary"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radio-control/daxiq/internal/vita"
)

func testPacket(seq uint8) *vita.Packet {
	return &vita.Packet{
		StreamID:      0x20000000,
		TimestampInt:  1700000000,
		TimestampFrac: 4096,
		Sequence:      seq,
		Samples:       []complex64{complex(0.5, -0.25), complex(-1, 1)},
	}
}

func TestEncodeFrame(t *testing.T) {
	frame := EncodeFrame(testPacket(9))
	if len(frame) != FrameHeaderSize+16 {
		t.Fatalf("Expected %d bytes, got %d", FrameHeaderSize+16, len(frame))
	}
	if got := binary.BigEndian.Uint32(frame[0:4]); got != 0x20000000 {
		t.Errorf("Expected stream id 0x20000000, got 0x%08x", got)
	}
	if frame[4] != 9 {
		t.Errorf("Expected sequence 9, got %d", frame[4])
	}
	if got := binary.BigEndian.Uint32(frame[5:9]); got != 1700000000 {
		t.Errorf("Expected integer timestamp 1700000000, got %d", got)
	}
	if got := binary.BigEndian.Uint64(frame[9:17]); got != 4096 {
		t.Errorf("Expected fractional timestamp 4096, got %d", got)
	}
	want := []float32{0.5, -0.25, -1, 1}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(frame[FrameHeaderSize+4*i:]))
		if got != w {
			t.Errorf("Expected sample value %d to be %v, got %v", i, w, got)
		}
	}
}

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	feed := NewIQFeed(1)
	sub := &feedSubscriber{id: "slow", frames: make(chan []byte, 1)}
	feed.subs[sub.id] = sub

	feed.Broadcast(testPacket(0))
	feed.Broadcast(testPacket(1))
	feed.Broadcast(nil)

	sent, dropped := feed.Counts()
	if sent != 1 || dropped != 1 {
		t.Errorf("Expected 1 sent and 1 dropped, got %d and %d", sent, dropped)
	}
	if frame := <-sub.frames; frame[4] != 0 {
		t.Errorf("Expected the first frame to be kept, got sequence %d", frame[4])
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

func TestIQFeedDeliversFrames(t *testing.T) {
	feed := NewIQFeed(8)
	srv := httptest.NewServer(feed)
	defer srv.Close()
	defer feed.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial feed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return feed.Subscribers() == 1 })

	packets := make(chan *vita.Packet, 1)
	packets <- testPacket(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Pump(ctx, func(timeout time.Duration) *vita.Packet {
		select {
		case p := <-packets:
			return p
		case <-time.After(timeout):
			return nil
		}
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Errorf("Expected binary message, got %d", typ)
	}
	if len(data) != FrameHeaderSize+16 || data[4] != 3 {
		t.Errorf("Expected frame for sequence 3, got %d bytes", len(data))
	}

	conn.Close()
	waitFor(t, func() bool { return feed.Subscribers() == 0 })
}

func TestIQFeedCloseDisconnects(t *testing.T) {
	feed := NewIQFeed(8)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial feed: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return feed.Subscribers() == 1 })

	feed.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		feed.Pump(context.Background(), func(time.Duration) *vita.Packet { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Expected Pump to return after Close")
	}
}
