package radiosim

import (
	"context"
	"log"
	"net"
	"strconv"
)

// Sim bundles the state, command server and discovery responder.
type Sim struct {
	State     *RadioState
	Server    *Server
	Responder *Responder
}

// Start brings the simulator up. The discovery responder is skipped when
// withDiscovery is false.
func Start(ctx context.Context, cfg *Config, withDiscovery bool) (*Sim, error) {
	state := NewRadioState(cfg)
	server := NewServer(cfg, state)
	if err := server.Listen(); err != nil {
		state.Close()
		return nil, err
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Printf("[ERROR] flexsim: command server failed: %v", err)
		}
	}()

	sim := &Sim{State: state, Server: server}
	if withDiscovery {
		sim.Responder = NewResponder(cfg, server.Port())
		if err := sim.Responder.Start(ctx); err != nil {
			sim.Close()
			return nil, err
		}
	}
	return sim, nil
}

// Addr returns the command channel address for clients on this host.
func (s *Sim) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Server.Port()))
}

// Close shuts everything down in reverse order.
func (s *Sim) Close() {
	if s.Responder != nil {
		if err := s.Responder.Close(); err != nil {
			log.Printf("[DEBUG] flexsim: responder close: %v", err)
		}
	}
	if err := s.Server.Close(); err != nil {
		log.Printf("[DEBUG] flexsim: server close: %v", err)
	}
	if err := s.State.Close(); err != nil {
		log.Printf("[DEBUG] flexsim: state close: %v", err)
	}
}
