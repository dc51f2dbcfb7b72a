package api

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/radio-control/daxiq/internal/vita"
)

// FrameHeaderSize is the fixed prefix of every IQ frame: stream id (u32 BE),
// sequence (u8), integer timestamp (u32 BE), fractional timestamp (u64 BE).
// Little-endian float32 I/Q pairs follow.
const FrameHeaderSize = 17

const (
	defaultFeedQueue = 64
	feedWriteTimeout = 10 * time.Second
	pumpPoll         = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   65536,
	EnableCompression: false,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EncodeFrame serialises one packet as an IQ feed frame.
func EncodeFrame(p *vita.Packet) []byte {
	buf := make([]byte, FrameHeaderSize+8*len(p.Samples))
	binary.BigEndian.PutUint32(buf[0:4], p.StreamID)
	buf[4] = p.Sequence
	binary.BigEndian.PutUint32(buf[5:9], p.TimestampInt)
	binary.BigEndian.PutUint64(buf[9:17], p.TimestampFrac)
	off := FrameHeaderSize
	for _, s := range p.Samples {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(imag(s)))
		off += 8
	}
	return buf
}

type feedSubscriber struct {
	id     string
	frames chan []byte
}

// IQFeed fans packets out to websocket subscribers. A subscriber whose
// queue is full misses frames; the broadcaster never waits.
type IQFeed struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[string]*feedSubscriber
	closed chan struct{}
	once   sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewIQFeed creates a feed with queueSize frames buffered per subscriber.
func NewIQFeed(queueSize int) *IQFeed {
	if queueSize <= 0 {
		queueSize = defaultFeedQueue
	}
	return &IQFeed{
		queueSize: queueSize,
		subs:      make(map[string]*feedSubscriber),
		closed:    make(chan struct{}),
	}
}

// Broadcast offers p to every subscriber.
func (f *IQFeed) Broadcast(p *vita.Packet) {
	if p == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.subs) == 0 {
		return
	}
	frame := EncodeFrame(p)
	for _, sub := range f.subs {
		select {
		case sub.frames <- frame:
			f.sent.Add(1)
		default:
			f.dropped.Add(1)
		}
	}
}

// Pump moves packets from next to the subscribers until ctx ends or the
// feed is closed. next is typically Director.GetSamples.
func (f *IQFeed) Pump(ctx context.Context, next func(time.Duration) *vita.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closed:
			return
		default:
		}
		if p := next(pumpPoll); p != nil {
			f.Broadcast(p)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (f *IQFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Counts returns frames queued and frames dropped across all subscribers.
func (f *IQFeed) Counts() (sent, dropped uint64) {
	return f.sent.Load(), f.dropped.Load()
}

// Close disconnects every subscriber and stops Pump.
func (f *IQFeed) Close() {
	f.once.Do(func() { close(f.closed) })
}

// ServeHTTP upgrades the request and streams frames until the peer goes
// away or the feed closes.
func (f *IQFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] IQ feed upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	sub := &feedSubscriber{
		id:     uuid.NewString(),
		frames: make(chan []byte, f.queueSize),
	}
	f.mu.Lock()
	f.subs[sub.id] = sub
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.subs, sub.id)
		f.mu.Unlock()
	}()
	log.Printf("[INFO] IQ feed subscriber %s connected from %s", sub.id, r.RemoteAddr)

	// Reads only detect the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			log.Printf("[INFO] IQ feed subscriber %s disconnected", sub.id)
			return
		case <-f.closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		case frame := <-sub.frames:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("[DEBUG] IQ feed write to %s failed: %v", sub.id, err)
				return
			}
		}
	}
}
