package radiosim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/radio-control/daxiq/internal/discovery"
)

// Responder answers discovery probes with the simulator's announcement and
// optionally announces itself periodically.
type Responder struct {
	config   *Config
	tcpPort  int
	conn     net.PacketConn
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewResponder creates a responder advertising tcpPort as the command port.
func NewResponder(cfg *Config, tcpPort int) *Responder {
	return &Responder{
		config:   cfg,
		tcpPort:  tcpPort,
		stopChan: make(chan struct{}),
	}
}

// Announcement returns the radio as advertised.
func (r *Responder) Announcement() discovery.Radio {
	radio := discovery.Radio{
		IP:       r.config.Radio.IP,
		Port:     r.tcpPort,
		Model:    r.config.Radio.Model,
		Serial:   r.config.Radio.Serial,
		Version:  r.config.Radio.Version,
		Nickname: r.config.Radio.Nickname,
		Callsign: r.config.Radio.Callsign,
		Status:   "Available",
	}
	if len(r.config.GUIClients) > 0 {
		radio.Status = "In_Use"
	}
	for _, g := range r.config.GUIClients {
		radio.GUIClientIDs = append(radio.GUIClientIDs, g.ClientID)
		radio.GUIClientHandles = append(radio.GUIClientHandles, g.Handle)
		radio.GUIClientPrograms = append(radio.GUIClientPrograms, g.Program)
		radio.GUIClientStations = append(radio.GUIClientStations, g.Station)
		radio.GUIClientHosts = append(radio.GUIClientHosts, g.Host)
		radio.GUIClientIPs = append(radio.GUIClientIPs, g.IP)
	}
	return radio
}

// Start binds the discovery port and serves until Close.
func (r *Responder) Start(ctx context.Context) error {
	conn, err := discovery.Listen(ctx, r.config.Network.DiscoveryPort)
	if err != nil {
		return err
	}
	r.conn = conn
	log.Printf("[INFO] flexsim: discovery responder on %s", conn.LocalAddr())

	r.wg.Add(1)
	go r.serve()

	if dst := r.config.Network.AnnounceAddr; dst != "" {
		addr, err := net.ResolveUDPAddr("udp4", dst)
		if err != nil {
			r.Close()
			return fmt.Errorf("bad announce address %s: %w", dst, err)
		}
		r.wg.Add(1)
		go r.announce(addr)
	}
	return nil
}

// Port returns the bound discovery port.
func (r *Responder) Port() int {
	if r.conn == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(r.conn.LocalAddr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func (r *Responder) serve() {
	defer r.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("[WARN] flexsim: discovery read failed: %v", err)
			continue
		}
		if !discovery.IsProbe(buf[:n]) {
			continue
		}
		log.Printf("[DEBUG] flexsim: discovery probe from %s", from)
		if _, err := r.conn.WriteTo(discovery.BuildReply(r.Announcement()), from); err != nil {
			log.Printf("[WARN] flexsim: discovery reply to %s failed: %v", from, err)
		}
	}
}

func (r *Responder) announce(addr *net.UDPAddr) {
	defer r.wg.Done()
	interval := r.config.Network.AnnounceInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.conn.WriteTo(discovery.BuildReply(r.Announcement()), addr); err != nil {
			log.Printf("[DEBUG] flexsim: announcement to %s failed: %v", addr, err)
		}
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// Close stops the responder.
func (r *Responder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stopChan)
		if r.conn != nil {
			err = r.conn.Close()
		}
		r.wg.Wait()
	})
	return err
}
