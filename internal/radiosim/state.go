package radiosim

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/radio-control/daxiq/internal/smartsdr"
	"github.com/radio-control/daxiq/internal/status"
)

// Status codes the simulator answers with.
const (
	StatusMalformed  uint32 = 0x50000016
	StatusBadField   uint32 = 0x5000002D
	StatusNotAllowed uint32 = 0x50000063
)

// Command is one command queued for the worker.
type Command struct {
	Handle   string
	Text     string
	Response chan Result
}

// Result is the radio's answer: status lines pushed first, then the response.
type Result struct {
	Status  uint32
	Message string
	Pushes  []string
}

type pan struct {
	id        uint32
	centerMHz float64
	bandwidth string
	antenna   string
	daxCh     int
}

// RadioState is the simulated radio. Commands run one at a time on a
// worker goroutine.
type RadioState struct {
	cfg *Config

	mu         sync.RWMutex
	pans       map[uint32]*pan
	slice      uint32
	sliceMHz   float64
	bound      map[string]string // handle -> client id
	nextStream uint32
	streams    map[uint32]string // stream id -> destination
	reject     map[string]uint32
	commands   []string

	streamer     *Streamer
	commandQueue chan Command
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewRadioState creates the state and starts its worker.
func NewRadioState(cfg *Config) *RadioState {
	ctx, cancel := context.WithCancel(context.Background())

	first, _ := status.ParseHex(cfg.Stream.FirstID)
	rs := &RadioState{
		cfg:          cfg,
		pans:         make(map[uint32]*pan),
		slice:        cfg.Slice.Index,
		sliceMHz:     cfg.Slice.FrequencyMHz,
		bound:        make(map[string]string),
		nextStream:   first,
		streams:      make(map[uint32]string),
		reject:       make(map[string]uint32),
		streamer:     NewStreamer(cfg.Stream),
		commandQueue: make(chan Command, 100),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, p := range cfg.Pans {
		id, _ := status.ParseHex(p.ID)
		rs.pans[id] = &pan{id: id, centerMHz: p.CenterMHz, bandwidth: p.Bandwidth, antenna: p.Antenna}
	}
	for prefix, code := range cfg.Reject {
		if v, err := parseStatus(code); err == nil {
			rs.reject[prefix] = v
		}
	}

	rs.wg.Add(1)
	go rs.commandWorker()
	return rs
}

func (rs *RadioState) commandWorker() {
	defer rs.wg.Done()
	for {
		select {
		case cmd := <-rs.commandQueue:
			cmd.Response <- rs.processCommand(cmd)
		case <-rs.ctx.Done():
			return
		}
	}
}

// Execute runs one command for the connection with the given handle.
func (rs *RadioState) Execute(handle, text string) Result {
	response := make(chan Result, 1)
	cmd := Command{Handle: handle, Text: text, Response: response}

	select {
	case rs.commandQueue <- cmd:
		select {
		case res := <-response:
			return res
		case <-rs.ctx.Done():
			return Result{Status: StatusNotAllowed, Message: "shutting down"}
		}
	case <-time.After(5 * time.Second):
		return Result{Status: StatusNotAllowed, Message: "busy"}
	case <-rs.ctx.Done():
		return Result{Status: StatusNotAllowed, Message: "shutting down"}
	}
}

// SetRejection makes commands starting with prefix fail with code. A zero
// code removes the rule.
func (rs *RadioState) SetRejection(prefix string, code uint32) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if code == smartsdr.StatusSuccess {
		delete(rs.reject, prefix)
		return
	}
	rs.reject[prefix] = code
}

// Commands returns every command received so far, in order.
func (rs *RadioState) Commands() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]string(nil), rs.commands...)
}

// Streams returns the active stream ids.
func (rs *RadioState) Streams() []uint32 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	ids := make([]uint32, 0, len(rs.streams))
	for id := range rs.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SliceFrequencyMHz returns the frequency of the DAX slice.
func (rs *RadioState) SliceFrequencyMHz() float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.sliceMHz
}

// BoundClient returns the client id the handle bound to.
func (rs *RadioState) BoundClient(handle string) string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.bound[handle]
}

// Streamer returns the packet source.
func (rs *RadioState) Streamer() *Streamer {
	return rs.streamer
}

// Greeting returns the lines sent when a client connects.
func (rs *RadioState) Greeting(handle string) []string {
	return []string{
		"V" + rs.cfg.Radio.Version,
		"H" + handle,
		"M10000001|Simulated radio " + rs.cfg.Radio.Nickname,
	}
}

func (rs *RadioState) processCommand(cmd Command) Result {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	text := strings.TrimSpace(cmd.Text)
	rs.commands = append(rs.commands, text)

	if code, ok := rs.rejectionLocked(text); ok {
		return Result{Status: code, Message: "rejected by simulator"}
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Result{Status: StatusMalformed}
	}
	h := cmd.Handle

	switch {
	case text == "client list":
		return Result{Pushes: rs.clientLines(h)}
	case text == "sub client all" || text == "sub client":
		return Result{Pushes: rs.clientLines(h)}
	case strings.HasPrefix(text, "client bind "):
		return rs.handleBind(h, fields)
	case text == "slice list":
		if rs.slice == 0 {
			return Result{}
		}
		return Result{Message: strconv.FormatUint(uint64(rs.slice), 10)}
	case text == "sub pan all" || text == "sub pan":
		return Result{Pushes: rs.panLines(h, 0)}
	case len(fields) == 3 && fields[0] == "sub" && fields[1] == "pan":
		id, ok := status.ParseHex(fields[2])
		if !ok || rs.pans[id] == nil {
			return Result{Status: StatusBadField, Message: "no such panadapter"}
		}
		return Result{Pushes: rs.panLines(h, id)}
	case strings.HasPrefix(text, "dax iq set "):
		return rs.handleDaxIQ(fields)
	case strings.HasPrefix(text, "stream create "):
		return rs.handleStreamCreate(h, fields)
	case strings.HasPrefix(text, "stream remove "):
		return rs.handleStreamRemove(h, fields)
	case strings.HasPrefix(text, "slice set "):
		return rs.handleSliceSet(h, fields)
	default:
		return Result{Status: StatusMalformed, Message: "unsupported command"}
	}
}

func (rs *RadioState) rejectionLocked(text string) (uint32, bool) {
	best := ""
	for prefix := range rs.reject {
		if strings.HasPrefix(text, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0, false
	}
	return rs.reject[best], true
}

func (rs *RadioState) handleBind(handle string, fields []string) Result {
	kv := keyValues(fields)
	id := kv["client_id"]
	for _, g := range rs.cfg.GUIClients {
		if g.ClientID == id {
			rs.bound[handle] = id
			return Result{}
		}
	}
	return Result{Status: StatusBadField, Message: "unknown client_id"}
}

func (rs *RadioState) handleDaxIQ(fields []string) Result {
	// dax iq set <ch> pan=0x...
	if len(fields) < 5 {
		return Result{Status: StatusMalformed}
	}
	ch, err := strconv.Atoi(fields[3])
	if err != nil {
		return Result{Status: StatusMalformed}
	}
	id, ok := status.ParseHex(keyValues(fields)["pan"])
	if !ok || rs.pans[id] == nil {
		return Result{Status: StatusBadField, Message: "no such panadapter"}
	}
	rs.pans[id].daxCh = ch
	return Result{}
}

func (rs *RadioState) handleStreamCreate(handle string, fields []string) Result {
	kv := keyValues(fields)
	ch, err := strconv.Atoi(kv["daxiq"])
	if err != nil {
		return Result{Status: StatusMalformed, Message: "missing daxiq channel"}
	}
	ip, port := kv["ip"], kv["port"]
	if ip == "" || port == "" {
		return Result{Status: StatusMalformed, Message: "missing ip or port"}
	}
	dest := net.JoinHostPort(ip, port)

	id := rs.nextStream
	rs.nextStream++
	if err := rs.streamer.Start(id, dest); err != nil {
		return Result{Status: StatusBadField, Message: err.Error()}
	}
	rs.streams[id] = dest

	panID := rs.panForChannelLocked(ch)
	pushes := []string{
		fmt.Sprintf("S%s|stream 0x%08x type=dax_iq daxiq_channel=%d pan=0x%08x slice=%d ip=%s port=%s",
			handle, id, ch, panID, rs.slice, ip, port),
	}
	if rs.slice != 0 {
		pushes = append(pushes, rs.sliceLine(handle))
	}
	return Result{Message: fmt.Sprintf("0x%08x", id), Pushes: pushes}
}

// panForChannelLocked returns the pan a DAX channel is assigned to, else the
// lowest pan id.
func (rs *RadioState) panForChannelLocked(ch int) uint32 {
	ids := rs.panIDsLocked()
	for _, id := range ids {
		if rs.pans[id].daxCh == ch {
			return id
		}
	}
	if len(ids) > 0 {
		return ids[0]
	}
	return 0
}

func (rs *RadioState) handleStreamRemove(handle string, fields []string) Result {
	if len(fields) < 3 {
		return Result{Status: StatusMalformed}
	}
	id, ok := status.ParseHex(fields[2])
	if !ok {
		return Result{Status: StatusMalformed}
	}
	if _, ok := rs.streams[id]; !ok {
		return Result{Status: StatusBadField, Message: "no such stream"}
	}
	delete(rs.streams, id)
	if active, _, running := rs.streamer.Active(); running && active == id {
		rs.streamer.Stop()
	}
	return Result{Pushes: []string{fmt.Sprintf("S%s|stream 0x%08x removed", handle, id)}}
}

func (rs *RadioState) handleSliceSet(handle string, fields []string) Result {
	// slice set <n> RF_frequency=<hz>
	if len(fields) < 4 {
		return Result{Status: StatusMalformed}
	}
	idx, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Result{Status: StatusMalformed}
	}
	if rs.slice == 0 || uint32(idx) != rs.slice {
		return Result{Status: StatusBadField, Message: "no such slice"}
	}
	mhz, ok := status.ParseFrequencyMHz(keyValues(fields)["RF_frequency"])
	if !ok {
		return Result{Status: StatusBadField, Message: "bad RF_frequency"}
	}
	rs.sliceMHz = mhz
	return Result{Pushes: []string{rs.sliceLine(handle)}}
}

func (rs *RadioState) clientLines(handle string) []string {
	lines := make([]string, 0, len(rs.cfg.GUIClients))
	for _, g := range rs.cfg.GUIClients {
		lines = append(lines, fmt.Sprintf("S%s|client %s connected client_id=%s program=%s station=%s host=%s ip=%s gui=1",
			handle, g.Handle, g.ClientID, g.Program, g.Station, g.Host, g.IP))
	}
	return lines
}

// panLines renders one pan, or every pan when id is zero.
func (rs *RadioState) panLines(handle string, id uint32) []string {
	var lines []string
	for _, pid := range rs.panIDsLocked() {
		if id != 0 && pid != id {
			continue
		}
		p := rs.pans[pid]
		lines = append(lines, fmt.Sprintf("S%s|display pan 0x%08x center=%.6f bandwidth=%s ant=%s rxant=%s",
			handle, p.id, p.centerMHz, p.bandwidth, p.antenna, p.antenna))
	}
	return lines
}

func (rs *RadioState) sliceLine(handle string) string {
	return fmt.Sprintf("S%s|slice %d RF_frequency=%.6f", handle, rs.slice, rs.sliceMHz)
}

func (rs *RadioState) panIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(rs.pans))
	for id := range rs.pans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func keyValues(fields []string) map[string]string {
	kv := make(map[string]string)
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok {
			kv[k] = v
		}
	}
	return kv
}

// Close stops the worker and any stream.
func (rs *RadioState) Close() error {
	rs.cancel()
	rs.streamer.Stop()

	done := make(chan struct{})
	go func() {
		rs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("shutdown timeout")
	}
}
