package radiosim

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Server accepts command channel connections.
type Server struct {
	config *Config
	state  *RadioState

	listener          net.Listener
	stopChan          chan struct{}
	activeConnections map[string]net.Conn
	connectionsMutex  sync.RWMutex
	nextHandle        uint32
	wg                sync.WaitGroup
}

// NewServer creates a command server backed by state.
func NewServer(cfg *Config, state *RadioState) *Server {
	return &Server{
		config:            cfg,
		state:             state,
		stopChan:          make(chan struct{}),
		activeConnections: make(map[string]net.Conn),
		nextHandle:        0x1E000000,
	}
}

// Listen binds the TCP port. Port 0 picks a free port; see Addr.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Network.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Network.TCPPort, err)
	}
	s.listener = listener
	log.Printf("[INFO] flexsim: command server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// ListenAndServe binds and serves until Close.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on the bound listener.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[WARN] flexsim: accept failed: %v", err)
			continue
		}

		if !s.isAllowedConnection(conn) {
			log.Printf("[WARN] flexsim: rejected connection from %s (not in allowed CIDRs)", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	handle := fmt.Sprintf("0x%08X", atomic.AddUint32(&s.nextHandle, 1))
	s.connectionsMutex.Lock()
	s.activeConnections[handle] = conn
	s.connectionsMutex.Unlock()
	defer func() {
		s.connectionsMutex.Lock()
		delete(s.activeConnections, handle)
		s.connectionsMutex.Unlock()
	}()

	log.Printf("[INFO] flexsim: client %s connected from %s", handle, conn.RemoteAddr())
	w := bufio.NewWriter(conn)
	for _, line := range s.state.Greeting(handle) {
		w.WriteString(line + "\n")
	}
	if err := w.Flush(); err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		seq, cmd, ok := parseCommand(line)
		if !ok {
			log.Printf("[DEBUG] flexsim: ignoring %q", line)
			continue
		}

		res := s.state.Execute(handle, cmd)
		for _, push := range res.Pushes {
			w.WriteString(push + "\n")
		}
		fmt.Fprintf(w, "R%d|%08X|%s\n", seq, res.Status, res.Message)
		if err := w.Flush(); err != nil {
			log.Printf("[DEBUG] flexsim: write to %s failed: %v", handle, err)
			return
		}
	}
	log.Printf("[INFO] flexsim: client %s disconnected", handle)
}

// parseCommand splits "C<seq>|<command>".
func parseCommand(line string) (uint32, string, bool) {
	if !strings.HasPrefix(line, "C") {
		return 0, "", false
	}
	head, cmd, ok := strings.Cut(line[1:], "|")
	if !ok {
		return 0, "", false
	}
	seq, err := strconv.ParseUint(head, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(seq), cmd, true
}

func (s *Server) isAllowedConnection(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}
	if len(s.config.Network.AllowedCIDRs) == 0 {
		return true
	}

	for _, cidrStr := range s.config.Network.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidrStr)
		if err != nil {
			log.Printf("[WARN] flexsim: invalid CIDR in config: %s", cidrStr)
			continue
		}
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}

// DropConnections closes every client connection, as a radio reboot would.
func (s *Server) DropConnections() {
	s.connectionsMutex.RLock()
	defer s.connectionsMutex.RUnlock()
	for _, conn := range s.activeConnections {
		conn.Close()
	}
}

// ConnectionCount returns the number of connected clients.
func (s *Server) ConnectionCount() int {
	s.connectionsMutex.RLock()
	defer s.connectionsMutex.RUnlock()
	return len(s.activeConnections)
}

// Close stops accepting, drops clients and waits for their handlers.
func (s *Server) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.DropConnections()
	s.wg.Wait()
	return err
}
