// Command daxiqd opens a DAXIQ stream from a FlexRadio and serves it over
// HTTP: status, telemetry events and a websocket IQ feed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/radio-control/daxiq/internal/api"
	"github.com/radio-control/daxiq/internal/audit"
	"github.com/radio-control/daxiq/internal/auth"
	"github.com/radio-control/daxiq/internal/config"
	"github.com/radio-control/daxiq/internal/logging"
	"github.com/radio-control/daxiq/internal/metrics"
	"github.com/radio-control/daxiq/internal/mqttpub"
	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/session"
	"github.com/radio-control/daxiq/internal/telemetry"
)

const Version = "1.0.0"

type flags struct {
	config       string
	ip           string
	freq         float64
	rate         int
	channel      int
	bindClientID string
	pan          string
	port         int
	secs         float64
	apiAddr      string
	logLevel     string
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	def := config.Default()
	f := &flags{}
	fs.StringVarP(&f.config, "config", "c", os.Getenv("DAXIQ_CONFIG"), "YAML configuration file")
	fs.StringVar(&f.ip, "ip", "", "radio IP (or host:port); empty runs discovery")
	fs.Float64Var(&f.freq, "freq", def.Radio.CenterMHz, "center frequency in MHz")
	fs.IntVar(&f.rate, "rate", def.Radio.SampleRate, "sample rate (24000, 48000, 96000, 192000)")
	fs.IntVar(&f.channel, "channel", def.Radio.DAXChannel, "DAX IQ channel (1-8)")
	fs.StringVar(&f.bindClientID, "bind-client-id", "", "GUI client id to bind to")
	fs.StringVar(&f.pan, "pan", "", "preferred panadapter id (hex or decimal)")
	fs.IntVar(&f.port, "port", 0, "UDP port for VITA-49 packets (0 = ephemeral)")
	fs.Float64Var(&f.secs, "secs", 0, "stop after this many seconds (0 = run until signalled)")
	fs.StringVar(&f.apiAddr, "api", def.API.Addr, `HTTP API listen address ("" disables)`)
	fs.StringVar(&f.logLevel, "log-level", def.Logging.Level, "DEBUG, INFO, WARN or ERROR")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply overlays explicitly set flags onto cfg and revalidates it.
func (f *flags) apply(fs *flag.FlagSet, cfg *config.Config) error {
	if fs.Changed("ip") {
		cfg.Radio.IP = f.ip
	}
	if fs.Changed("freq") {
		cfg.Radio.CenterMHz = f.freq
	}
	if fs.Changed("rate") {
		cfg.Radio.SampleRate = f.rate
	}
	if fs.Changed("channel") {
		cfg.Radio.DAXChannel = f.channel
	}
	if fs.Changed("bind-client-id") {
		cfg.Radio.BindClientID = f.bindClientID
	}
	if fs.Changed("pan") {
		cfg.Radio.PreferredPanID = f.pan
	}
	if fs.Changed("port") {
		cfg.Radio.UDPPort = f.port
	}
	if fs.Changed("api") {
		cfg.API.Addr = f.apiAddr
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	return config.Validate(cfg)
}

func main() {
	fs := flag.NewFlagSet("daxiqd", flag.ExitOnError)
	opts, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	// Step 1: Load configuration
	cfg, err := config.Load(opts.config)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := opts.apply(fs, cfg); err != nil {
		log.Fatalf("Invalid command line: %v", err)
	}

	// Step 2: Logging
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	log.Printf("[INFO] Starting daxiqd v%s", Version)

	// The director is created in step 5; the hub, metrics and the ready
	// event only call into it once the session exists.
	var director *session.Director

	// Step 3: Telemetry hub
	hub := telemetry.NewHub(telemetry.Options{
		EventBufferSize:   cfg.Timing.EventBufferSize,
		HeartbeatInterval: cfg.Timing.HeartbeatInterval,
		HeartbeatJitter:   cfg.Timing.HeartbeatJitter,
		Snapshot:          func() map[string]interface{} { return director.Snapshot().Map() },
	})

	// Step 4: Audit log
	auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
	})
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}
	log.Printf("[INFO] Audit log at %s", auditLogger.Path())

	// Step 5: Metrics and session director
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(func() receiver.Stats { return director.Stats() })
	}
	director = session.New(cfg, session.Deps{
		Hub:     hub,
		Audit:   auditLogger,
		Metrics: m,
	})

	// Step 6: Start the session
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := director.Start(ctx); err != nil {
		hub.Stop()
		auditLogger.Close()
		log.Fatalf("[ERROR] Could not start stream: %v", err)
	}
	log.Printf("[INFO] Streaming from %s: %.6f MHz, %.0f Hz bandwidth",
		director.SourceLabel(), director.FrequencyMHz(), director.BandwidthHz())

	// Step 7: API server and IQ feed
	feed := api.NewIQFeed(cfg.Receiver.QueueSize)
	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.API.Addr != "" {
		mw, err := auth.FromConfig(auth.VerifierConfig{
			Algorithm:    cfg.API.Auth.Algorithm,
			SecretKey:    cfg.API.Auth.Secret,
			PublicKeyPEM: cfg.API.Auth.PublicKeyPEM,
		})
		if err != nil {
			director.Stop()
			log.Fatalf("[ERROR] Failed to configure API auth: %v", err)
		}
		if !mw.Enabled() {
			log.Printf("[WARN] API authentication disabled (no secret or public key configured)")
		}
		deps := api.Deps{
			Session:   director,
			Telemetry: hub,
			Feed:      feed,
			Auth:      mw,
		}
		if m != nil {
			deps.Metrics = m.Handler()
		}
		server = api.NewServer(deps, 30*time.Second, 120*time.Second)
		go func() {
			if err := server.Start(cfg.API.Addr); err != nil {
				serverErr <- err
			}
		}()
		log.Printf("[INFO] API listening on %s (health: /api/v1/health, IQ: /api/v1/iq)", cfg.API.Addr)
	}

	// Step 8: IQ pump
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		feed.Pump(ctx, director.GetSamples)
	}()

	// Step 9: MQTT
	var publisher *mqttpub.Publisher
	if cfg.MQTT.Broker != "" {
		publisher, err = mqttpub.New(cfg.MQTT, director)
		if err != nil {
			log.Printf("[WARN] MQTT disabled: %v", err)
		} else {
			publisher.Start(ctx)
		}
	}

	// Step 10: Wait for a signal, the run time or a server failure
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if opts.secs > 0 {
		deadline = time.After(time.Duration(opts.secs * float64(time.Second)))
	}

	select {
	case sig := <-shutdown:
		log.Printf("[INFO] Received signal %v, shutting down", sig)
	case <-deadline:
		log.Printf("[INFO] Run time of %gs elapsed", opts.secs)
	case err := <-serverErr:
		log.Printf("[ERROR] %v", err)
	}

	// Ordered shutdown
	cancel()
	feed.Close()
	<-pumpDone

	director.Stop()
	if publisher != nil {
		publisher.Stop()
	}

	if server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Stop(stopCtx); err != nil {
			log.Printf("[WARN] %v", err)
		}
		stopCancel()
	}
	hub.Stop()
	if err := auditLogger.Close(); err != nil {
		log.Printf("[WARN] Error closing audit logger: %v", err)
	}

	log.Printf("[INFO] %s", statsLine(director.Stats(), feed))
}

func statsLine(st receiver.Stats, feed *api.IQFeed) string {
	sent, dropped := feed.Counts()
	return fmt.Sprintf("Final stats: accepted=%d missed=%d dropped=%d malformed=%d filtered=%d iq_sent=%d iq_dropped=%d",
		st.Accepted, st.Missed, st.Dropped, st.Malformed, st.Filtered, sent, dropped)
}
