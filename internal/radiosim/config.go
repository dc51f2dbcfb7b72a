package radiosim

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/radio-control/daxiq/internal/status"
)

// Config is the complete simulator configuration.
type Config struct {
	Network    NetworkConfig     `yaml:"network"`
	Radio      IdentityConfig    `yaml:"radio"`
	GUIClients []GUIClientConfig `yaml:"guiClients"`
	Pans       []PanConfig       `yaml:"pans"`
	Slice      SliceConfig       `yaml:"slice"`
	Stream     StreamConfig      `yaml:"stream"`

	// Reject maps a command prefix to the status returned instead of
	// executing it. The longest matching prefix wins.
	Reject map[string]string `yaml:"reject"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	TCPPort       int      `yaml:"tcpPort"`
	DiscoveryPort int      `yaml:"discoveryPort"`
	AllowedCIDRs  []string `yaml:"allowedCidrs"`

	// AnnounceAddr receives unsolicited announcements every
	// AnnounceInterval when set, as a real radio broadcasts.
	AnnounceAddr     string        `yaml:"announceAddr"`
	AnnounceInterval time.Duration `yaml:"announceInterval"`
}

// IdentityConfig is what the radio advertises.
type IdentityConfig struct {
	IP       string `yaml:"ip"`
	Model    string `yaml:"model"`
	Serial   string `yaml:"serial"`
	Version  string `yaml:"version"`
	Nickname string `yaml:"nickname"`
	Callsign string `yaml:"callsign"`
}

// GUIClientConfig is a GUI application attached to the radio.
type GUIClientConfig struct {
	Handle   string `yaml:"handle"`
	ClientID string `yaml:"clientId"`
	Program  string `yaml:"program"`
	Station  string `yaml:"station"`
	Host     string `yaml:"host"`
	IP       string `yaml:"ip"`
}

// PanConfig is a panadapter the radio reports.
type PanConfig struct {
	ID        string  `yaml:"id"`
	CenterMHz float64 `yaml:"centerMhz"`
	Bandwidth string  `yaml:"bandwidth"`
	Antenna   string  `yaml:"antenna"`
}

// SliceConfig is the slice tied to the DAX channel. Index 0 means no slice
// is assigned.
type SliceConfig struct {
	Index        uint32  `yaml:"index"`
	FrequencyMHz float64 `yaml:"frequencyMhz"`
}

// StreamConfig shapes the DAXIQ stream.
type StreamConfig struct {
	FirstID          string        `yaml:"firstId"`
	SampleRate       int           `yaml:"sampleRate"`
	SamplesPerPacket int           `yaml:"samplesPerPacket"`
	ToneHz           float64       `yaml:"toneHz"`
	Amplitude        float64       `yaml:"amplitude"`
	Interval         time.Duration `yaml:"interval"`

	// SkipEvery leaves a hole in the sequence every SkipEvery packets.
	SkipEvery int `yaml:"skipEvery"`
}

// Load reads defaults, then path if non-empty, then FLEXSIM_* overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a FLEX-6600 with one GUI client, one panadapter and
// slice A unassigned.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			TCPPort:          4992,
			DiscoveryPort:    4992,
			AllowedCIDRs:     []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
			AnnounceInterval: time.Second,
		},
		Radio: IdentityConfig{
			IP:       "127.0.0.1",
			Model:    "FLEX-6600",
			Serial:   "0000-0000-6600-0001",
			Version:  "3.4.35.141",
			Nickname: "flexsim",
			Callsign: "N0CALL",
		},
		GUIClients: []GUIClientConfig{
			{
				Handle:   "0x3AA1B2C4",
				ClientID: "6A1F2E3D-0000-4000-8000-000000000001",
				Program:  "SmartSDR-Win",
				Station:  "Shack",
				Host:     "shack-pc",
				IP:       "127.0.0.1",
			},
		},
		Pans: []PanConfig{
			{ID: "0x40000000", CenterMHz: 14.1, Bandwidth: "0.2", Antenna: "ANT1"},
		},
		Stream: StreamConfig{
			FirstID:          "0x20000000",
			SampleRate:       96000,
			SamplesPerPacket: 128,
			ToneHz:           1000,
			Amplitude:        0.5,
			Interval:         0,
		},
		Reject: map[string]string{},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEXSIM_TCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.TCPPort = port
		}
	}
	if v := os.Getenv("FLEXSIM_DISCOVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.DiscoveryPort = port
		}
	}
	if v := os.Getenv("FLEXSIM_IP"); v != "" {
		cfg.Radio.IP = v
	}
	if v := os.Getenv("FLEXSIM_VERSION"); v != "" {
		cfg.Radio.Version = v
	}
	if v := os.Getenv("FLEXSIM_SLICE"); v != "" {
		if idx, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Slice.Index = uint32(idx)
		}
	}
}

// Validate checks the configuration.
func Validate(cfg *Config) error {
	if cfg.Network.TCPPort < 0 || cfg.Network.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp port %d", cfg.Network.TCPPort)
	}
	if cfg.Network.DiscoveryPort < 0 || cfg.Network.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port %d", cfg.Network.DiscoveryPort)
	}
	for _, p := range cfg.Pans {
		if id, ok := status.ParseHex(p.ID); !ok || id == 0 {
			return fmt.Errorf("invalid pan id %q", p.ID)
		}
	}
	if id, ok := status.ParseHex(cfg.Stream.FirstID); !ok || id == 0 {
		return fmt.Errorf("invalid stream id %q", cfg.Stream.FirstID)
	}
	if cfg.Stream.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if cfg.Stream.SamplesPerPacket <= 0 {
		return fmt.Errorf("samples per packet must be positive")
	}
	for prefix, code := range cfg.Reject {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("empty reject prefix")
		}
		if _, err := parseStatus(code); err != nil {
			return fmt.Errorf("reject %q: %w", prefix, err)
		}
	}
	return nil
}

func parseStatus(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid status code %q", s)
	}
	return uint32(v), nil
}
