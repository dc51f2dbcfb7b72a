// Command flexsim runs a simulated FlexRadio: discovery replies, the
// SmartSDR command channel and a DAXIQ tone stream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/radio-control/daxiq/internal/logging"
	"github.com/radio-control/daxiq/internal/radiosim"
)

func main() {
	configPath := flag.StringP("config", "c", os.Getenv("FLEXSIM_CONFIG"), "YAML configuration file")
	tcpPort := flag.Int("tcp", 0, "command channel TCP port (overrides config)")
	discoveryPort := flag.Int("discovery", 0, "discovery UDP port (overrides config)")
	noDiscovery := flag.Bool("no-discovery", false, "do not answer discovery probes")
	logLevel := flag.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(logging.NewFilter(*logLevel, os.Stderr))
	log.Println("Starting FlexRadio simulator...")

	cfg, err := radiosim.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flag.CommandLine.Changed("tcp") {
		cfg.Network.TCPPort = *tcpPort
	}
	if flag.CommandLine.Changed("discovery") {
		cfg.Network.DiscoveryPort = *discoveryPort
	}
	if err := radiosim.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim, err := radiosim.Start(ctx, cfg, !*noDiscovery)
	if err != nil {
		log.Fatalf("Failed to start simulator: %v", err)
	}
	log.Printf("[INFO] %s %s (v%s) serving commands on %s",
		cfg.Radio.Model, cfg.Radio.Serial, cfg.Radio.Version, sim.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down simulator...")
	sim.Close()
	log.Println("Simulator stopped")
}
