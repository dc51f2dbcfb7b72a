package session

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

	"github.com/hashicorp/go-version"

	"github.com/radio-control/daxiq/internal/audit"
	"github.com/radio-control/daxiq/internal/config"
	"github.com/radio-control/daxiq/internal/discovery"
	"github.com/radio-control/daxiq/internal/metrics"
	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/setup"
	"github.com/radio-control/daxiq/internal/smartsdr"
	"github.com/radio-control/daxiq/internal/telemetry"
	"github.com/radio-control/daxiq/internal/vita"
)

// TelemetrySource is the telemetry source every session event is published under.
const TelemetrySource = "radio"

// Start steps, as reported in StartError.Step.
const (
	StepConfig  = "config"
	StepResolve = "resolve"
	StepConnect = "connect"
	StepClients = "clients"
	StepBind    = "bind"
	StepPort    = "port"
	StepSetup   = "setup"
	StepReceive = "receive"
)

// Firmware older than this has no client bind command.
var minBindVersion = version.Must(version.NewVersion("2.0"))

const lossInterval = time.Second

// Deps are the collaborators of a Director. Any of Hub, Audit and Metrics
// may be nil.
type Deps struct {
	// Discover defaults to discovery.Discover.
	Discover  func(ctx context.Context, opts discovery.Options) ([]discovery.Radio, error)
	Discovery discovery.Options

	Hub     *telemetry.Hub
	Audit   *audit.Logger
	Metrics *metrics.Metrics
}

// Director owns one streaming session.
type Director struct {
	cfg  *config.Config
	deps Deps
	rx   *receiver.Receiver

	mu        sync.Mutex
	running   bool
	starting  bool // held by the Start in progress
	radio     *discovery.Radio
	addr      string
	label     string
	client    *smartsdr.Client
	neg       *setup.Negotiator
	streamID  uint32
	port      int
	startedAt time.Time

	monitorStop chan struct{}
	monitorDone chan struct{}

	// evMu guards the last published values used to detect changes.
	evMu       sync.Mutex
	lastState  setup.State
	lastStream uint32
	lastFreq   float64
	lastBW     float64
}

// New creates a Director for cfg. Nothing touches the network until Start.
func New(cfg *config.Config, deps Deps) *Director {
	if deps.Discover == nil {
		deps.Discover = discovery.Discover
	}
	if deps.Discovery.Timeout <= 0 {
		deps.Discovery.Timeout = cfg.Timing.DiscoveryTimeout
	}
	return &Director{
		cfg:  cfg,
		deps: deps,
		rx: receiver.New(receiver.Options{
			QueueSize:    cfg.Receiver.QueueSize,
			ReadBuffer:   cfg.Receiver.ReadBuffer,
			ReadDeadline: cfg.Timing.ReadDeadline,
		}),
	}
}

// Start runs discovery, connection, stream negotiation and starts the
// receiver. On failure everything already opened is released and the
// returned error is a *StartError.
func (d *Director) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running || d.starting || d.client != nil {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.starting = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.starting = false
		d.mu.Unlock()
	}()

	start := time.Now()
	err := d.start(ctx)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		d.publish(telemetry.EventFault, map[string]interface{}{
			"step":  StepOf(err),
			"error": err.Error(),
		})
	}
	if d.deps.Audit != nil {
		d.deps.Audit.LogAction(d.SourceLabel(), "start", map[string]interface{}{
			"dax_channel": d.cfg.Radio.DAXChannel,
			"center_mhz":  d.cfg.Radio.CenterMHz,
		}, time.Since(start), err)
	}
	return err
}

func (d *Director) start(ctx context.Context) error {
	preferred, err := d.cfg.PreferredPan()
	if err != nil {
		return &StartError{Step: StepConfig, Err: err}
	}

	// Step 1: Resolve the radio
	if err := d.resolve(ctx); err != nil {
		return &StartError{Step: StepResolve, Err: err}
	}

	// Step 2: Connect the command channel
	client, neg, err := d.connect(ctx, preferred)
	if err != nil {
		return &StartError{Step: StepConnect, Err: err}
	}

	// Step 3: Learn and subscribe to GUI clients
	if err := d.clients(ctx, client); err != nil {
		d.cleanup(client, neg)
		return &StartError{Step: StepClients, Err: err}
	}

	// Step 4: Bind to a GUI client
	if err := d.bind(ctx, client); err != nil {
		d.cleanup(client, neg)
		return &StartError{Step: StepBind, Err: err}
	}

	// Step 5: Choose the UDP port
	port := d.cfg.Radio.UDPPort
	if port == 0 {
		port, err = receiver.PickPort()
		if err != nil {
			d.cleanup(client, neg)
			return &StartError{Step: StepPort, Err: err}
		}
	}
	neg.SetPort(port)
	log.Printf("[INFO] Using UDP port %d for DAXIQ", port)

	// Step 6: Negotiate the stream
	streamID, err := neg.Setup(ctx)
	if err != nil {
		d.cleanup(client, neg)
		return &StartError{Step: StepSetup, Err: err}
	}

	// Step 7: Receive, filtered on the granted stream
	if err := d.rx.Start(port, streamID); err != nil {
		d.cleanup(client, neg)
		return &StartError{Step: StepReceive, Err: err}
	}

	d.mu.Lock()
	d.streamID = streamID
	d.port = port
	d.running = true
	d.startedAt = time.Now()
	d.monitorStop = make(chan struct{})
	d.monitorDone = make(chan struct{})
	stop, done := d.monitorStop, d.monitorDone
	d.mu.Unlock()

	go d.monitor(stop, done)

	if d.deps.Metrics != nil {
		d.deps.Metrics.SetSessionUp(true)
	}
	log.Printf("[INFO] Streaming DAXIQ from %s: stream_id=0x%08x port=%d", d.SourceLabel(), streamID, port)
	return nil
}

func (d *Director) resolve(ctx context.Context) error {
	if ip := d.cfg.Radio.IP; ip != "" {
		addr := ip
		host := ip
		if h, _, err := net.SplitHostPort(ip); err == nil {
			host = h
		} else {
			addr = net.JoinHostPort(ip, strconv.Itoa(discovery.Port))
		}
		d.mu.Lock()
		d.addr = addr
		d.label = "radio @ " + host
		d.mu.Unlock()
		log.Printf("[INFO] Using configured radio at %s", addr)
		return nil
	}

	radios, err := d.deps.Discover(ctx, d.deps.Discovery)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryEmpty, err)
	}
	if len(radios) == 0 {
		return ErrDiscoveryEmpty
	}
	radio := radios[0]
	d.mu.Lock()
	d.radio = &radio
	d.addr = radio.Address()
	d.label = radio.Label()
	d.mu.Unlock()
	log.Printf("[INFO] Discovered %s", radio.Label())
	return nil
}

func (d *Director) connect(ctx context.Context, preferred uint32) (*smartsdr.Client, *setup.Negotiator, error) {
	d.mu.Lock()
	addr := d.addr
	d.mu.Unlock()

	client := smartsdr.New(addr, smartsdr.Options{
		Timeout:      d.cfg.Timing.CommandTimeout,
		Observer:     d,
		OnDisconnect: d.onDisconnect,
	})
	neg := setup.New(client, setup.Options{
		DAXChannel:   d.cfg.Radio.DAXChannel,
		PreferredPan: preferred,
		CenterMHz:    d.cfg.Radio.CenterMHz,
		PanGrace:     d.cfg.Timing.PanGrace,
		StatusSettle: d.cfg.Timing.StatusSettle,
		OnChange:     d.onSessionChange,
	})
	// The handler must be in place before the first status line arrives.
	client.SetNotificationHandler(neg.HandleLine)

	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	d.mu.Lock()
	d.client = client
	d.neg = neg
	d.mu.Unlock()
	return client, neg, nil
}

func (d *Director) clients(ctx context.Context, client *smartsdr.Client) error {
	if _, _, err := client.RefreshClientList(ctx); err != nil {
		log.Printf("[DEBUG] client list failed: %v", err)
	}
	if accepted, _, err := client.SendFirst(ctx, "sub client all", "sub client"); err != nil {
		if errors.Is(err, smartsdr.ErrConnectionClosed) || errors.Is(err, smartsdr.ErrNotConnected) {
			return err
		}
		log.Printf("[DEBUG] Client status subscription not accepted by radio: %v", err)
	} else {
		log.Printf("[DEBUG] Subscribed for client status with command: %s", accepted)
	}

	t := time.NewTimer(d.cfg.Timing.ClientSettle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	guis := client.GUIClients()
	if len(guis) == 0 {
		log.Printf("[INFO] No SmartSDR GUI clients seen")
	}
	for _, g := range guis {
		log.Printf("[INFO] GUI client: station=%s program=%s host=%s ip=%s client_id=%s handle=%s",
			g.Station, g.Program, g.Host, g.IP, g.ClientID, g.Handle)
	}
	return nil
}

// firmware returns the radio firmware version when it is known.
func (d *Director) firmware(client *smartsdr.Client) *version.Version {
	d.mu.Lock()
	radio := d.radio
	d.mu.Unlock()
	if radio != nil {
		if v, err := radio.FirmwareVersion(); err == nil {
			return v
		}
	}
	if v, err := version.NewVersion(strings.TrimSpace(client.Version())); err == nil {
		return v
	}
	return nil
}

// bindCandidates lists the client ids to try, in order: the configured id,
// else GUI clients seen in status, then those advertised at discovery.
func (d *Director) bindCandidates(client *smartsdr.Client) []string {
	if id := d.cfg.Radio.BindClientID; id != "" {
		return []string{id}
	}
	seen := make(map[string]bool)
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(client.GUIClientIDs())
	d.mu.Lock()
	if d.radio != nil {
		add(d.radio.GUIClientIDs)
	}
	d.mu.Unlock()
	return out
}

func (d *Director) bind(ctx context.Context, client *smartsdr.Client) error {
	if v := d.firmware(client); v != nil && v.LessThan(minBindVersion) {
		log.Printf("[INFO] Firmware %s predates client bind; skipping", v)
		return nil
	}

	candidates := d.bindCandidates(client)
	if len(candidates) == 0 {
		log.Printf("[WARN] No GUI client id available to bind; streams may not follow the GUI")
		return nil
	}

	for _, id := range candidates {
		_, err := client.Send(ctx, "client bind client_id="+id)
		if err == nil {
			log.Printf("[INFO] Bound to GUI client %s", id)
			d.sliceDiagnostics(ctx, client)
			return nil
		}
		if errors.Is(err, smartsdr.ErrConnectionClosed) || errors.Is(err, smartsdr.ErrNotConnected) {
			return err
		}
		log.Printf("[WARN] client bind client_id=%s failed: %v", id, err)
	}
	return nil
}

func (d *Director) sliceDiagnostics(ctx context.Context, client *smartsdr.Client) {
	reply, err := client.Send(ctx, "slice list")
	if err != nil {
		log.Printf("[DEBUG] slice list failed: %v", err)
		return
	}
	letters := sliceLetters(reply)
	if len(letters) == 0 {
		log.Printf("[INFO] No slices visible to this client")
		return
	}
	log.Printf("[INFO] Visible slices: %s", strings.Join(letters, ", "))
}

func (d *Director) cleanup(client *smartsdr.Client, neg *setup.Negotiator) {
	if neg != nil && neg.Session().StreamID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timing.CommandTimeout)
		neg.Teardown(ctx)
		cancel()
	}
	if client != nil {
		if err := client.Disconnect(); err != nil {
			log.Printf("[DEBUG] Disconnect: %v", err)
		}
	}
	d.mu.Lock()
	d.client = nil
	d.neg = nil
	d.mu.Unlock()
}

// Stop stops the receiver, removes the stream and disconnects. It is safe to
// call more than once and never fails.
func (d *Director) Stop() {
	d.mu.Lock()
	client, neg := d.client, d.neg
	stop, done := d.monitorStop, d.monitorDone
	wasRunning := d.running
	d.running = false
	d.monitorStop, d.monitorDone = nil, nil
	d.mu.Unlock()

	if client == nil && !wasRunning {
		return
	}
	start := time.Now()

	if stop != nil {
		close(stop)
		<-done
	}
	d.rx.Stop()
	log.Printf("[INFO] Receiver stopped")

	if neg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timing.CommandTimeout)
		neg.Teardown(ctx)
		cancel()
	}
	if client != nil {
		if err := client.Disconnect(); err != nil {
			log.Printf("[DEBUG] Disconnect: %v", err)
		}
		log.Printf("[INFO] Disconnected from %s", d.SourceLabel())
	}

	d.mu.Lock()
	d.client = nil
	d.mu.Unlock()

	if d.deps.Metrics != nil {
		d.deps.Metrics.SetSessionUp(false)
	}
	if d.deps.Audit != nil {
		d.deps.Audit.LogAction(d.SourceLabel(), "stop", nil, time.Since(start), nil)
	}
}

// GetSamples waits up to timeout for the next packet. It returns nil when
// none arrived.
func (d *Director) GetSamples(timeout time.Duration) *vita.Packet {
	pkt, ok := d.rx.Next(timeout)
	if !ok {
		return nil
	}
	return pkt
}

// Running reports whether a stream is being received.
func (d *Director) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Session returns the negotiated session, or the zero Session before connect.
func (d *Director) Session() setup.Session {
	d.mu.Lock()
	neg := d.neg
	d.mu.Unlock()
	if neg == nil {
		return setup.Session{}
	}
	return neg.Session()
}

// Panadapters returns the panadapters observed on this connection.
func (d *Director) Panadapters() []setup.Panadapter {
	d.mu.Lock()
	neg := d.neg
	d.mu.Unlock()
	if neg == nil {
		return nil
	}
	return neg.Panadapters()
}

// FrequencyMHz is the slice frequency if known, else the pan center, else the
// configured center.
func (d *Director) FrequencyMHz() float64 {
	return d.frequencyMHz(d.Session())
}

func (d *Director) frequencyMHz(s setup.Session) float64 {
	switch {
	case s.HasSliceFrequency:
		return s.SliceFrequencyMHz
	case s.HasPanFrequency:
		return s.PanFrequencyMHz
	default:
		return d.cfg.Radio.CenterMHz
	}
}

// BandwidthHz is the selected panadapter bandwidth if known, else the
// configured sample rate.
func (d *Director) BandwidthHz() float64 {
	return d.bandwidthHz(d.Session())
}

func (d *Director) bandwidthHz(s setup.Session) float64 {
	if s.HasPanBandwidth {
		return s.PanBandwidthHz
	}
	return float64(d.cfg.Radio.SampleRate)
}

// SourceLabel names the radio: "<model> <serial> @ <ip>" when discovered,
// "radio @ <ip>" when configured.
func (d *Director) SourceLabel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.label == "" {
		return "radio"
	}
	return d.label
}

// Stats returns the receiver counters.
func (d *Director) Stats() receiver.Stats {
	return d.rx.Stats()
}

// CommandObserved implements smartsdr.Observer.
func (d *Director) CommandObserved(rec smartsdr.CommandRecord) {
	if d.deps.Audit != nil {
		d.deps.Audit.LogCommand(d.SourceLabel(), rec)
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveCommand(rec)
	}
}

func (d *Director) onDisconnect(err error) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	log.Printf("[ERROR] Lost command channel to %s: %v", d.SourceLabel(), err)
	d.publish(telemetry.EventFault, map[string]interface{}{
		"error":     err.Error(),
		"streaming": running,
	})
	if d.deps.Metrics != nil {
		d.deps.Metrics.SetSessionUp(false)
	}
}

// onSessionChange runs on the command channel receive loop or the Start
// goroutine. It must not issue commands.
func (d *Director) onSessionChange(s setup.Session) {
	freq := d.frequencyMHz(s)
	bw := d.bandwidthHz(s)

	d.evMu.Lock()
	stateChanged := s.State != d.lastState
	streamChanged := s.StreamID != d.lastStream
	tuneChanged := freq != d.lastFreq || bw != d.lastBW
	d.lastState = s.State
	d.lastStream = s.StreamID
	d.lastFreq = freq
	d.lastBW = bw
	d.evMu.Unlock()

	if stateChanged {
		d.publish(telemetry.EventSession, sessionData(s))
	}
	if streamChanged || (stateChanged && s.State == setup.StateTornDown) {
		data := map[string]interface{}{"stream_id": fmt.Sprintf("0x%08x", s.StreamID)}
		if s.State == setup.StateTornDown {
			data["removed"] = true
		}
		d.publish(telemetry.EventStream, data)
	}
	if tuneChanged {
		d.publish(telemetry.EventTune, map[string]interface{}{
			"frequency_mhz": freq,
			"bandwidth_hz":  bw,
		})
		if d.deps.Metrics != nil {
			d.deps.Metrics.SetTuning(freq*1e6, bw)
		}
	}
}

func (d *Director) monitor(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(lossInterval)
	defer ticker.Stop()

	last := d.rx.Stats()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := d.rx.Stats()
			missed := cur.Missed - last.Missed
			dropped := cur.Dropped - last.Dropped
			if missed > 0 || dropped > 0 {
				d.publish(telemetry.EventLoss, map[string]interface{}{
					"missed":        missed,
					"dropped":       dropped,
					"missed_total":  cur.Missed,
					"dropped_total": cur.Dropped,
				})
			}
			last = cur
		}
	}
}

func (d *Director) publish(typ string, data map[string]interface{}) {
	if d.deps.Hub == nil {
		return
	}
	d.deps.Hub.PublishSource(TelemetrySource, typ, data)
}

func sessionData(s setup.Session) map[string]interface{} {
	data := map[string]interface{}{
		"state":     s.State.String(),
		"pan_id":    fmt.Sprintf("0x%08x", s.PanID),
		"stream_id": fmt.Sprintf("0x%08x", s.StreamID),
	}
	if s.HasSlice {
		data["slice"] = sliceLabel(s)
	}
	return data
}

func sliceLabel(s setup.Session) string {
	if !s.HasSlice {
		return ""
	}
	if !s.SliceAssigned() {
		return "not assigned"
	}
	return SliceLetter(int(s.SliceID))
}
