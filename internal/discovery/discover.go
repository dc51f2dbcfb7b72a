package discovery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/radio-control/daxiq/internal/vita"
)

// DefaultTimeout bounds a discovery attempt.
const DefaultTimeout = 3 * time.Second

// ProbePacketClass marks the client's discovery request. It differs from the
// announcement class so a listener never mistakes its own probe for a radio.
const ProbePacketClass uint16 = 0xfffe

var (
	ErrNoClassID    = errors.New("NO_CLASS_ID")
	ErrNotDiscovery = errors.New("NOT_DISCOVERY")
)

// Options controls a discovery attempt.
type Options struct {
	Port      int           // listen port, default 4992
	ProbePort int           // probe destination port, default Port
	Timeout   time.Duration // default 3s
	Broadcast string        // probe destination, default 255.255.255.255
	NoProbe   bool          // listen only
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = Port
	}
	if o.ProbePort == 0 {
		o.ProbePort = o.Port
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Broadcast == "" {
		o.Broadcast = "255.255.255.255"
	}
	return o
}

// ParseReply validates a discovery datagram and parses its payload. from is
// the sender address, used when the payload carries no ip.
func ParseReply(data []byte, from string) (Radio, error) {
	if len(data) < 8 {
		return Radio{}, vita.ErrShortPacket
	}
	hdr, err := vita.ReadHeader(data)
	if err != nil {
		return Radio{}, err
	}
	if !hdr.HasClassID {
		return Radio{}, ErrNoClassID
	}
	if len(data) < 16 {
		return Radio{}, vita.ErrTruncated
	}
	cid := vita.ClassID(binary.BigEndian.Uint64(data[8:16]))
	if !cid.IsFlexDiscovery() {
		return Radio{}, fmt.Errorf("%w: %s", ErrNotDiscovery, cid)
	}

	text := strings.TrimRight(string(data[16:]), "\x00")
	return ParsePayload(text, from), nil
}

// BuildReply encodes r as a discovery announcement.
func BuildReply(r Radio) []byte {
	return buildPacket(vita.DiscoveryPacketClass, r.Payload())
}

// BuildProbe encodes a discovery request.
func BuildProbe() []byte {
	return buildPacket(ProbePacketClass, "discovery")
}

// IsProbe reports whether data is a discovery request.
func IsProbe(data []byte) bool {
	if len(data) < 16 {
		return false
	}
	hdr := vita.ParseHeader(binary.BigEndian.Uint32(data[0:4]))
	cid := vita.ClassID(binary.BigEndian.Uint64(data[8:16]))
	return hdr.HasClassID && cid.OUI() == vita.FlexOUI && cid.PacketClass() == ProbePacketClass
}

func buildPacket(class uint16, text string) []byte {
	payload := []byte(text)
	for len(payload)%4 != 0 {
		payload = append(payload, 0)
	}
	words := 4 + len(payload)/4
	hdr := vita.Header{
		Type:       vita.TypeExtDataStream,
		HasClassID: true,
		SizeWords:  uint16(words),
	}

	buf := make([]byte, 16, words*4)
	binary.BigEndian.PutUint32(buf[0:], hdr.Word())
	binary.BigEndian.PutUint32(buf[4:], 0x00000800)
	binary.BigEndian.PutUint64(buf[8:], uint64(vita.MakeClassID(vita.FlexOUI, 0x534c, class)))
	return append(buf, payload...)
}

// Discover broadcasts a probe and listens for announcements until the timeout
// elapses or the first valid radio is parsed. No radio is not an error.
func Discover(ctx context.Context, opts Options) ([]Radio, error) {
	opts = opts.withDefaults()

	conn, err := Listen(ctx, opts.Port)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	if !opts.NoProbe {
		dst := net.JoinHostPort(opts.Broadcast, strconv.Itoa(opts.ProbePort))
		if addr, err := net.ResolveUDPAddr("udp4", dst); err != nil {
			log.Printf("[WARN] discovery: bad broadcast address %s: %v", dst, err)
		} else if _, err := conn.WriteTo(BuildProbe(), addr); err != nil {
			log.Printf("[WARN] discovery: probe to %s failed: %v", dst, err)
		}
	}

	log.Printf("[INFO] Listening for radio discovery broadcasts on UDP:%d", opts.Port)

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, 4096)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return []Radio{}, nil
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return []Radio{}, nil
			}
			log.Printf("[WARN] discovery: receive error: %v", err)
			continue
		}

		fromIP := ""
		if udp, ok := from.(*net.UDPAddr); ok {
			fromIP = udp.IP.String()
		}

		radio, err := ParseReply(buf[:n], fromIP)
		if err != nil {
			log.Printf("[DEBUG] discovery: ignoring %d bytes from %s: %v", n, from, err)
			continue
		}

		log.Printf("[INFO] %s", radio.Summary())
		return []Radio{radio}, nil
	}
}

// Listen binds the discovery port with address and port reuse so several
// clients on one host can hear the same broadcasts.
func Listen(ctx context.Context, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_BROADCAST: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP:%d: %w", port, err)
	}
	return conn, nil
}
