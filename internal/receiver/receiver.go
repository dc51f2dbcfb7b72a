// Package receiver reads DAXIQ VITA-49 datagrams from UDP and hands decoded
// packets to a bounded queue.
package receiver

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radio-control/daxiq/internal/vita"
)

// Defaults.
const (
	DefaultQueueSize    = 200
	DefaultReadBuffer   = 4 * 1024 * 1024
	DefaultReadDeadline = time.Second
)

// ErrAlreadyRunning is returned by Start on a running receiver.
var ErrAlreadyRunning = errors.New("ALREADY_RUNNING")

// Options configures a Receiver.
type Options struct {
	QueueSize    int
	ReadBuffer   int
	ReadDeadline time.Duration
}

// Stats is a snapshot of receiver counters.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Dropped   uint64 `json:"dropped"`
	Missed    uint64 `json:"missed"`
	Malformed uint64 `json:"malformed"`
	Filtered  uint64 `json:"filtered"`
	Queued    int    `json:"queued"`
}

// Receiver owns one UDP socket and its receive loop.
type Receiver struct {
	opts  Options
	queue chan *vita.Packet

	mu      sync.Mutex
	conn    *net.UDPConn
	running atomic.Bool
	done    chan struct{}
	port    int
	filter  uint32

	accepted  atomic.Uint64
	dropped   atomic.Uint64
	missed    atomic.Uint64
	malformed atomic.Uint64
	filtered  atomic.Uint64

	// lastSeq is owned by the receive loop and reset on Start.
	lastSeq map[uint32]uint8
}

// New creates a stopped receiver.
func New(opts Options) *Receiver {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = DefaultReadBuffer
	}
	if opts.ReadDeadline <= 0 {
		opts.ReadDeadline = DefaultReadDeadline
	}
	return &Receiver{
		opts:    opts,
		queue:   make(chan *vita.Packet, opts.QueueSize),
		lastSeq: make(map[uint32]uint8),
	}
}

// Start binds the UDP port and starts receiving. A zero filter accepts every
// stream.
func (r *Receiver) Start(port int, filter uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running.Load() {
		return ErrAlreadyRunning
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", port, err)
	}
	if err := conn.SetReadBuffer(r.opts.ReadBuffer); err != nil {
		log.Printf("[WARN] Could not set UDP read buffer to %d bytes: %v", r.opts.ReadBuffer, err)
	}

	r.conn = conn
	r.port = conn.LocalAddr().(*net.UDPAddr).Port
	r.filter = filter
	r.reset()
	r.done = make(chan struct{})
	r.running.Store(true)
	go r.loop(conn, r.done)

	log.Printf("[INFO] VITA receiver listening on UDP:%d", r.port)
	return nil
}

// reset clears what the previous run left behind. The loop is not running.
func (r *Receiver) reset() {
	r.lastSeq = make(map[uint32]uint8)
	for {
		select {
		case <-r.queue:
		default:
			return
		}
	}
}

// Port returns the bound UDP port, or 0 when stopped.
func (r *Receiver) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return 0
	}
	return r.port
}

// Stop closes the socket and waits for the receive loop to exit.
func (r *Receiver) Stop() {
	r.mu.Lock()
	conn := r.conn
	done := r.done
	r.running.Store(false)
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	<-done
	log.Printf("[INFO] VITA receiver stopped")
}

// Next waits up to timeout for a packet.
func (r *Receiver) Next(timeout time.Duration) (*vita.Packet, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case pkt := <-r.queue:
		return pkt, true
	case <-t.C:
		return nil, false
	}
}

// Packets exposes the queue for callers that prefer to range over it.
func (r *Receiver) Packets() <-chan *vita.Packet {
	return r.queue
}

// Stats returns the current counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		Accepted:  r.accepted.Load(),
		Dropped:   r.dropped.Load(),
		Missed:    r.missed.Load(),
		Malformed: r.malformed.Load(),
		Filtered:  r.filtered.Load(),
		Queued:    len(r.queue),
	}
}

func (r *Receiver) loop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 65536)
	for r.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(r.opts.ReadDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !r.running.Load() {
				return
			}
			log.Printf("[ERROR] VITA recv error: %v", err)
			continue
		}
		r.handle(buf[:n])
	}
}

// handle decodes, filters and accounts for one datagram.
func (r *Receiver) handle(data []byte) {
	pkt, err := vita.Decode(data)
	if err != nil {
		r.malformed.Add(1)
		return
	}
	if r.filter != 0 && pkt.StreamID != r.filter {
		r.filtered.Add(1)
		return
	}
	r.accepted.Add(1)

	if last, ok := r.lastSeq[pkt.StreamID]; ok {
		if gap := vita.SequenceGap(last, pkt.Sequence); gap != 0 {
			r.missed.Add(uint64(gap))
			log.Printf("[WARN] Sequence gap on stream 0x%08x: expected %d, got %d (%d packets missed)",
				pkt.StreamID, (last+1)&0xF, pkt.Sequence, gap)
		}
	}
	r.lastSeq[pkt.StreamID] = pkt.Sequence

	select {
	case r.queue <- pkt:
	default:
		drops := r.dropped.Add(1)
		log.Printf("[WARN] VITA queue full, dropping packet (total drops: %d)", drops)
	}
}

// PickPort returns a UDP port that was free a moment ago.
func PickPort() (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return 0, fmt.Errorf("failed to pick UDP port: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}
