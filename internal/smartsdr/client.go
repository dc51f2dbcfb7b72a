package smartsdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds how long Send waits for a response.
const DefaultTimeout = 5 * time.Second

// NotificationHandler receives S and V lines verbatim, in arrival order, on
// the receive loop goroutine.
type NotificationHandler func(line string)

// CommandRecord describes one completed command for observers.
type CommandRecord struct {
	Seq     uint32
	Command string
	Status  uint32
	Message string
	Latency time.Duration
	Err     error
}

// Observer is told about every command once it completes or fails.
type Observer interface {
	CommandObserved(rec CommandRecord)
}

// Options configures a Client.
type Options struct {
	Timeout     time.Duration
	DialTimeout time.Duration
	Observer    Observer

	// OnDisconnect is called when the radio closes the connection or it
	// fails. It is not called for Disconnect.
	OnDisconnect func(err error)
}

type result struct {
	status  uint32
	message string
	err     error
}

type pendingCommand struct {
	seq     uint32
	command string
	done    chan result
}

// Client is a SmartSDR command channel connection.
type Client struct {
	addr string
	opts Options

	// mu guards conn, seq, pending and socket writes.
	mu      sync.Mutex
	conn    net.Conn
	seq     uint32
	pending map[uint32]*pendingCommand

	handlerMu sync.RWMutex
	handler   NotificationHandler

	warnMu sync.Mutex
	warned map[uint32]bool

	infoMu  sync.RWMutex
	version string
	handle  string
	gui     map[string]GUIClient

	loopDone chan struct{}
	closing  bool
}

// New creates an unconnected client for addr (host:port).
func New(addr string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Client{
		addr:    addr,
		opts:    opts,
		seq:     1,
		pending: make(map[uint32]*pendingCommand),
		warned:  make(map[uint32]bool),
		gui:     make(map[string]GUIClient),
	}
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	c := New(addr, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the TCP connection and starts the receive loop. A connected
// client returns ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return ErrAlreadyConnected
	}

	log.Printf("[INFO] Connecting to %s", c.addr)

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.closing = false
	c.loopDone = make(chan struct{})
	done := c.loopDone
	c.mu.Unlock()

	go c.recvLoop(conn, done)

	log.Printf("[INFO] TCP connected to %s", c.addr)
	return nil
}

// SetNotificationHandler registers the handler for S and V lines.
func (c *Client) SetNotificationHandler(h NotificationHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// LocalIP returns the local address of the command connection; the radio
// streams to this address.
func (c *Client) LocalIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "0.0.0.0"
	}
	if addr, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, _ := net.SplitHostPort(c.conn.LocalAddr().String())
	return host
}

// Version returns the protocol version announced by the radio.
func (c *Client) Version() string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.version
}

// Handle returns the client handle the radio assigned to this connection.
func (c *Client) Handle() string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.handle
}

// Send issues a command and waits for its response, bounded by the client
// timeout and ctx.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	return c.SendTimeout(ctx, command, c.opts.Timeout)
}

// SendTimeout issues a command with an explicit response timeout.
func (c *Client) SendTimeout(ctx context.Context, command string, timeout time.Duration) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	seq := c.seq
	c.seq++
	p := &pendingCommand{seq: seq, command: command, done: make(chan result, 1)}
	c.pending[seq] = p

	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := fmt.Fprintf(c.conn, "C%d|%s\n", seq, command)
	if err != nil {
		delete(c.pending, seq)
		c.mu.Unlock()
		err = fmt.Errorf("failed to send %q: %w", command, err)
		c.observe(CommandRecord{Seq: seq, Command: command, Latency: time.Since(start), Err: err})
		return "", err
	}
	c.mu.Unlock()

	log.Printf("[DEBUG] TX: C%d|%s", seq, command)

	var res result
	select {
	case res = <-p.done:
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		res.err = fmt.Errorf("%w: %s", ErrCommandTimeout, command)
	}

	if res.err == nil && res.status != StatusSuccess {
		res.err = &CommandError{Seq: seq, Command: command, Status: res.status, Message: strings.TrimSpace(res.message)}
	}

	c.observe(CommandRecord{
		Seq:     seq,
		Command: command,
		Status:  res.status,
		Message: res.message,
		Latency: time.Since(start),
		Err:     res.err,
	})

	if res.err != nil {
		return "", res.err
	}
	return res.message, nil
}

// SendFirst tries each command in order and returns the first one the radio
// accepts together with its reply. When all are rejected the last error is
// wrapped in ErrAllRejected.
func (c *Client) SendFirst(ctx context.Context, commands ...string) (string, string, error) {
	var lastErr error
	for _, cmd := range commands {
		reply, err := c.Send(ctx, cmd)
		if err == nil {
			return cmd, reply, nil
		}
		if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed) {
			return "", "", err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no commands given")
	}
	return "", "", fmt.Errorf("%w: %v", ErrAllRejected, lastErr)
}

// Disconnect closes the connection and waits for the receive loop to end.
// Commands still waiting fail with ErrConnectionClosed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.loopDone
	c.closing = true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}

func (c *Client) observe(rec CommandRecord) {
	if c.opts.Observer != nil {
		c.opts.Observer.CommandObserved(rec)
	}
}

func (c *Client) recvLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer c.failPending()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.handleLine(strings.TrimRight(scanner.Text(), "\r"))
	}

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}
	err := scanner.Err()
	if err != nil {
		log.Printf("[ERROR] TCP receive error: %v", err)
	} else {
		log.Printf("[WARN] TCP connection closed by radio")
		err = ErrConnectionClosed
	}
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, p := range c.pending {
		p.done <- result{err: fmt.Errorf("%w: %s", ErrConnectionClosed, p.command)}
		delete(c.pending, seq)
	}
	c.conn = nil
}

func (c *Client) handleLine(line string) {
	if line == "" {
		return
	}
	log.Printf("[DEBUG] RX: %s", line)

	switch line[0] {
	case 'R':
		c.handleResponse(line)
	case 'S', 'V':
		if line[0] == 'V' {
			c.infoMu.Lock()
			c.version = line[1:]
			c.infoMu.Unlock()
		}
		c.captureClient(line)
		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h != nil {
			h(line)
		}
	case 'H':
		c.infoMu.Lock()
		c.handle = line[1:]
		c.infoMu.Unlock()
	case 'M':
		log.Printf("[INFO] Radio message: %s", line[1:])
	}
}

func (c *Client) handleResponse(line string) {
	parts := strings.SplitN(line[1:], "|", 3)
	if len(parts) < 2 {
		return
	}
	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return
	}
	status, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 32)
	if err != nil {
		return
	}
	message := ""
	if len(parts) > 2 {
		message = parts[2]
	}

	c.mu.Lock()
	p, ok := c.pending[uint32(seq)]
	if ok {
		delete(c.pending, uint32(seq))
	}
	c.mu.Unlock()

	if status != uint64(StatusSuccess) {
		command := "<unknown command>"
		if ok {
			command = p.command
		}
		c.warnUnmapped(uint32(status))
		if detail := strings.TrimSpace(message); detail != "" {
			log.Printf("[WARN] Radio rejected command: %s -> %s %s", command, StatusText(uint32(status)), detail)
		} else {
			log.Printf("[WARN] Radio rejected command: %s -> %s", command, StatusText(uint32(status)))
		}
	}

	if !ok {
		// Caller already gave up.
		return
	}
	p.done <- result{status: uint32(status), message: message}
}

// warnUnmapped logs an unknown status code the first time this client sees it.
func (c *Client) warnUnmapped(status uint32) {
	if _, known := StatusMessages[status]; known {
		return
	}
	c.warnMu.Lock()
	seen := c.warned[status]
	c.warned[status] = true
	c.warnMu.Unlock()
	if !seen {
		log.Printf("[WARN] Encountered unmapped SmartSDR status code 0x%08X. Add it to StatusMessages when its meaning is confirmed.", status)
	}
}

// UnmappedSeen reports whether the client has already warned about status.
func (c *Client) UnmappedSeen(status uint32) bool {
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	return c.warned[status]
}
