package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/radio-control/daxiq/internal/status"
)

// ErrSetupFailure means the radio did not grant a usable stream.
var ErrSetupFailure = errors.New("SETUP_FAILURE")

// Default timing.
const (
	DefaultPanGrace       = 250 * time.Millisecond
	DefaultStatusSettle   = 200 * time.Millisecond
	DefaultReportInterval = 750 * time.Millisecond
)

// Commander is the part of the command channel the negotiator needs.
type Commander interface {
	Send(ctx context.Context, command string) (string, error)
	SendFirst(ctx context.Context, commands ...string) (string, string, error)
	LocalIP() string
}

// Options configures a Negotiator.
type Options struct {
	DAXChannel int
	Port       int

	// PreferredPan wins pan selection when non-zero.
	PreferredPan uint32

	// CenterMHz is applied to an assigned slice. Zero leaves tuning alone.
	CenterMHz float64

	PanGrace       time.Duration
	StatusSettle   time.Duration
	ReportInterval time.Duration

	// OnChange is called with a fresh snapshot after every state change or
	// status update that touched the session. It runs without locks held.
	OnChange func(Session)
}

// Negotiator drives stream setup and keeps the panadapter and session model
// current from status lines.
type Negotiator struct {
	cmd  Commander
	opts Options

	mu        sync.Mutex
	session   Session
	pans      map[uint32]*Panadapter
	streamPan uint32

	discovering bool
	reportSig   string
	lastReport  time.Time
	now         func() time.Time
}

// New creates a Negotiator in the Idle state.
func New(cmd Commander, opts Options) *Negotiator {
	if opts.DAXChannel <= 0 {
		opts.DAXChannel = 1
	}
	if opts.PanGrace <= 0 {
		opts.PanGrace = DefaultPanGrace
	}
	if opts.StatusSettle <= 0 {
		opts.StatusSettle = DefaultStatusSettle
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	return &Negotiator{
		cmd:  cmd,
		opts: opts,
		pans: make(map[uint32]*Panadapter),
		now:  time.Now,
	}
}

// SetPort sets the UDP port the stream is created for. Call before Setup.
func (n *Negotiator) SetPort(port int) {
	n.mu.Lock()
	n.opts.Port = port
	n.mu.Unlock()
}

// HandleLine parses a status line and dispatches it. It matches
// smartsdr.NotificationHandler.
func (n *Negotiator) HandleLine(line string) {
	n.Dispatch(status.Parse(line))
}

// Dispatch applies one status event to the model.
func (n *Negotiator) Dispatch(ev status.Event) {
	n.mu.Lock()
	var changed bool
	switch e := ev.(type) {
	case status.StreamStatus:
		changed = n.applyStream(e)
	case status.SliceStatus:
		changed = n.applySlice(e)
	case status.PanStatus:
		changed = n.applyPan(e)
	}
	snap := n.session
	n.mu.Unlock()

	if changed {
		n.notify(snap)
	}
}

func (n *Negotiator) applyStream(e status.StreamStatus) bool {
	if !e.DAXIQ {
		return false
	}
	if n.session.StreamID != 0 && e.StreamID != n.session.StreamID {
		return false
	}
	log.Printf("[DEBUG] Stream status: %s", e.Raw())

	changed := false
	if e.HasSlice {
		n.session.SliceID = e.Slice
		n.session.HasSlice = true
		state := "ASSIGNED"
		if e.Slice == 0 {
			state = "NOT ASSIGNED"
		}
		log.Printf("[DEBUG] DAXIQ stream 0x%08x slice status: 0x%x (%s)", e.StreamID, e.Slice, state)
		changed = true
	}
	if e.HasPan {
		if e.Pan == 0 {
			log.Printf("[DEBUG] Ignoring invalid panadapter id 0x00000000 from stream 0x%08x", e.StreamID)
			return changed
		}
		n.streamPan = e.Pan
		p := n.pan(e.Pan)
		p.StreamID = fmt.Sprintf("0x%08x", e.StreamID)
		if n.session.State >= StateResourceSelected && n.session.PanID != e.Pan {
			n.session.PanID = e.Pan
			n.copyPanLocked(p)
			changed = true
		}
		log.Printf("[DEBUG] DAXIQ stream 0x%08x panadapter: 0x%08x", e.StreamID, e.Pan)
		n.maybeReportLocked(false)
	}
	return changed
}

func (n *Negotiator) applySlice(e status.SliceStatus) bool {
	if !n.session.SliceAssigned() || e.Index != n.session.SliceID || !e.HasFrequency {
		return false
	}
	n.session.SliceFrequencyMHz = e.FrequencyMHz
	n.session.HasSliceFrequency = true
	log.Printf("[DEBUG] Slice %d frequency: %.6f MHz", e.Index, e.FrequencyMHz)
	return true
}

func (n *Negotiator) applyPan(e status.PanStatus) bool {
	if e.ID == 0 {
		return false
	}
	p := n.pan(e.ID)
	if e.HasCenter {
		p.CenterMHz = e.CenterMHz
		p.HasCenter = true
	}
	if e.Bandwidth != "" {
		p.Bandwidth = e.Bandwidth
	}
	if e.HasBandwidth {
		p.BandwidthHz = e.BandwidthHz
		p.HasBandwidth = true
	}
	if e.Antenna != "" {
		p.Antenna = e.Antenna
	}
	if e.RxAntenna != "" {
		p.RxAntenna = e.RxAntenna
	}
	if e.StreamID != "" {
		p.StreamID = e.StreamID
	}
	n.maybeReportLocked(false)

	if n.session.PanID == 0 || e.ID != n.session.PanID {
		return false
	}
	n.copyPanLocked(p)
	if p.HasCenter {
		log.Printf("[DEBUG] Panadapter 0x%08x center frequency: %.6f MHz", p.ID, p.CenterMHz)
	}
	return true
}

func (n *Negotiator) pan(id uint32) *Panadapter {
	p, ok := n.pans[id]
	if !ok {
		p = &Panadapter{ID: id}
		n.pans[id] = p
	}
	return p
}

func (n *Negotiator) copyPanLocked(p *Panadapter) {
	if p.HasCenter {
		n.session.PanFrequencyMHz = p.CenterMHz
		n.session.HasPanFrequency = true
	}
	if p.HasBandwidth {
		n.session.PanBandwidthHz = p.BandwidthHz
		n.session.HasPanBandwidth = true
	}
}

// maybeReportLocked logs the known panadapters when their content changed,
// at most once per ReportInterval unless forced.
func (n *Negotiator) maybeReportLocked(force bool) {
	if n.discovering && !force {
		return
	}
	if len(n.pans) == 0 {
		if force {
			log.Printf("[DEBUG] Existing panadapters: none observed yet")
		}
		return
	}
	sig := panSignature(n.pans)
	if !force && sig == n.reportSig {
		return
	}
	now := n.now()
	if !force && now.Sub(n.lastReport) < n.opts.ReportInterval {
		return
	}
	n.reportSig = sig
	n.lastReport = now

	log.Printf("[DEBUG] Existing panadapters (from status):")
	for _, id := range sortedIDs(n.pans) {
		log.Printf("[DEBUG]   %s", n.pans[id].describe())
	}
}

// SelectPan picks the panadapter to use: the preferred id, else the one our
// stream reported, else the lowest known non-zero id. Zero means none.
func (n *Negotiator) SelectPan() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.selectPanLocked()
}

func (n *Negotiator) selectPanLocked() uint32 {
	if n.opts.PreferredPan != 0 {
		return n.opts.PreferredPan
	}
	if n.streamPan != 0 {
		return n.streamPan
	}
	for _, id := range sortedIDs(n.pans) {
		if id != 0 {
			return id
		}
	}
	return 0
}

// Session returns a snapshot of the negotiated state.
func (n *Negotiator) Session() Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// Panadapters returns the known panadapters ordered by id.
func (n *Negotiator) Panadapters() []Panadapter {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Panadapter, 0, len(n.pans))
	for _, id := range sortedIDs(n.pans) {
		out = append(out, *n.pans[id])
	}
	return out
}

func (n *Negotiator) setState(s State) Session {
	n.mu.Lock()
	n.session.State = s
	snap := n.session
	n.mu.Unlock()
	n.notify(snap)
	return snap
}

func (n *Negotiator) notify(s Session) {
	if n.opts.OnChange != nil {
		n.opts.OnChange(s)
	}
}

// Setup negotiates the stream and returns the granted stream id.
func (n *Negotiator) Setup(ctx context.Context) (uint32, error) {
	n.mu.Lock()
	n.discovering = true
	n.mu.Unlock()
	n.setState(StateResourceDiscoveryPending)

	if accepted, _, err := n.cmd.SendFirst(ctx, "sub pan all", "sub pan"); err != nil {
		log.Printf("[DEBUG] Pan status subscription not accepted by radio: %v", err)
	} else {
		log.Printf("[DEBUG] Subscribed for pan status with command: %s", accepted)
	}
	if err := sleep(ctx, n.opts.PanGrace); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSetupFailure, err)
	}

	n.mu.Lock()
	n.maybeReportLocked(true)
	n.discovering = false
	pan := n.selectPanLocked()
	n.session.PanID = pan
	if p, ok := n.pans[pan]; ok {
		n.copyPanLocked(p)
	}
	n.mu.Unlock()
	n.setState(StateResourceSelected)

	if pan != 0 {
		log.Printf("[INFO] Using panadapter 0x%08x", pan)
	} else {
		log.Printf("[INFO] No panadapter observed; proceeding without one")
	}

	n.mu.Lock()
	port := n.opts.Port
	n.mu.Unlock()
	localIP := n.cmd.LocalIP()
	log.Printf("[INFO] Creating DAXIQ stream to %s:%d", localIP, port)

	if pan != 0 {
		reply, err := n.cmd.Send(ctx, fmt.Sprintf("dax iq set %d pan=0x%08x", n.opts.DAXChannel, pan))
		if err != nil {
			log.Printf("[WARN] Could not assign DAXIQ channel %d to panadapter 0x%08x (may be controlled by SmartSDR): %v", n.opts.DAXChannel, pan, err)
		} else {
			log.Printf("[INFO] DAXIQ channel %d on panadapter 0x%08x: %s", n.opts.DAXChannel, pan, reply)
		}
	}

	reply, err := n.cmd.Send(ctx, fmt.Sprintf("stream create daxiq=%d ip=%s port=%d", n.opts.DAXChannel, localIP, port))
	if err != nil {
		return 0, fmt.Errorf("%w: stream create: %w", ErrSetupFailure, err)
	}
	log.Printf("[DEBUG] DAXIQ stream create response: %s", reply)

	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty stream create reply", ErrSetupFailure)
	}
	streamID, ok := status.ParseHex(fields[0])
	if !ok || streamID == 0 {
		return 0, fmt.Errorf("%w: invalid stream id %q", ErrSetupFailure, fields[0])
	}

	n.mu.Lock()
	n.session.StreamID = streamID
	n.mu.Unlock()
	n.setState(StateStreamCreated)
	log.Printf("[INFO] DAXIQ stream created: 0x%08x", streamID)

	if err := sleep(ctx, n.opts.StatusSettle); err != nil {
		return streamID, fmt.Errorf("%w: %w", ErrSetupFailure, err)
	}

	sess := n.Session()
	if sess.PanID != 0 {
		if _, err := n.cmd.Send(ctx, fmt.Sprintf("sub pan 0x%08x", sess.PanID)); err != nil {
			log.Printf("[WARN] Could not subscribe to panadapter: %v", err)
		}
	}
	log.Printf("[INFO] Using SmartSDR-configured DAXIQ rate")

	n.tune(ctx, sess)

	n.setState(StateTuned)
	log.Printf("[INFO] DAXIQ ready: stream_id=0x%08x", streamID)
	return streamID, nil
}

func (n *Negotiator) tune(ctx context.Context, sess Session) {
	if n.opts.CenterMHz <= 0 {
		return
	}
	switch {
	case sess.SliceAssigned():
		hz := int64(math.Round(n.opts.CenterMHz * 1e6))
		reply, err := n.cmd.Send(ctx, fmt.Sprintf("slice set %d RF_frequency=%d", sess.SliceID, hz))
		if err != nil {
			log.Printf("[WARN] Could not set slice frequency: %v", err)
			return
		}
		log.Printf("[INFO] Set slice %d frequency to %g MHz: %s", sess.SliceID, n.opts.CenterMHz, reply)
	case sess.HasSlice && sess.PanID != 0:
		log.Printf("[INFO] Panadapter frequency is controlled by SmartSDR GUI; using current GUI-selected center/bandwidth")
	default:
		log.Printf("[WARN] DAXIQ channel %d mode unknown (no slice or panadapter). Set frequency in SmartSDR.", n.opts.DAXChannel)
	}
}

// Teardown removes the stream. It never fails; the outcome is logged and
// returned as "ok", "none" or "rejected (...)".
func (n *Negotiator) Teardown(ctx context.Context) string {
	sess := n.Session()
	result := "none"
	if sess.StreamID != 0 {
		if _, err := n.cmd.Send(ctx, fmt.Sprintf("stream remove 0x%08x", sess.StreamID)); err != nil {
			result = fmt.Sprintf("rejected (%v)", err)
			log.Printf("[WARN] Failed to remove stream: %v", err)
		} else {
			result = "ok"
		}
	}
	n.setState(StateTornDown)
	log.Printf("[INFO] Shutdown cleanup: stream_remove=%s", result)
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
