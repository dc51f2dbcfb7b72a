package radiosim

import (
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"github.com/radio-control/daxiq/internal/vita"
)

// daxIQClass is the packet class the simulator stamps on IQ packets.
const daxIQClass uint16 = 0x02e3

// Streamer sends a constant amplitude tone as DAXIQ packets.
type Streamer struct {
	cfg StreamConfig

	mu       sync.Mutex
	streamID uint32
	dest     string
	stop     chan struct{}
	done     chan struct{}
	sent     uint64
}

// NewStreamer creates an idle streamer.
func NewStreamer(cfg StreamConfig) *Streamer {
	return &Streamer{cfg: cfg}
}

// Start begins streaming to dest (host:port) under streamID. A running
// stream is replaced.
func (s *Streamer) Start(streamID uint32, dest string) error {
	addr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		return fmt.Errorf("bad stream destination %s: %w", dest, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to open stream socket: %w", err)
	}

	s.Stop()

	s.mu.Lock()
	s.streamID = streamID
	s.dest = dest
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	log.Printf("[INFO] flexsim: streaming 0x%08x to %s", streamID, dest)
	go s.run(conn, streamID, stop, done)
	return nil
}

// Stop ends the stream and waits for the sender.
func (s *Streamer) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Active returns the running stream id and destination, if any.
func (s *Streamer) Active() (uint32, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return 0, "", false
	}
	return s.streamID, s.dest, true
}

// Sent returns the number of packets sent since creation.
func (s *Streamer) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Streamer) interval() time.Duration {
	if s.cfg.Interval > 0 {
		return s.cfg.Interval
	}
	return time.Duration(float64(time.Second) * float64(s.cfg.SamplesPerPacket) / float64(s.cfg.SampleRate))
}

func (s *Streamer) run(conn *net.UDPConn, streamID uint32, stop, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	cid := vita.MakeClassID(vita.FlexOUI, 0x534c, daxIQClass)
	opts := vita.EncodeOptions{
		Type:    vita.TypeIFDataWithStream,
		ClassID: &cid,
		TSI:     1,
		TSF:     1,
	}

	var seq uint8
	var count, sample uint64
	step := 2 * math.Pi * s.cfg.ToneHz / float64(s.cfg.SampleRate)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		count++
		if s.cfg.SkipEvery > 0 && count%uint64(s.cfg.SkipEvery) == 0 {
			seq = (seq + 1) & 0xF
		}

		samples := make([]complex64, s.cfg.SamplesPerPacket)
		for i := range samples {
			phase := step * float64(sample+uint64(i))
			samples[i] = complex(float32(s.cfg.Amplitude*math.Cos(phase)), float32(s.cfg.Amplitude*math.Sin(phase)))
		}
		now := time.Now()
		pkt := &vita.Packet{
			StreamID:      streamID,
			TimestampInt:  uint32(now.Unix()),
			TimestampFrac: sample,
			Sequence:      seq,
			Samples:       samples,
		}
		if _, err := conn.Write(vita.Encode(pkt, opts)); err != nil {
			log.Printf("[DEBUG] flexsim: stream write failed: %v", err)
		}

		sample += uint64(len(samples))
		seq = (seq + 1) & 0xF
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
	}
}
