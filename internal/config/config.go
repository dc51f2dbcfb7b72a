package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the complete daxiqd configuration.
type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Timing   TimingConfig   `yaml:"timing"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RadioConfig selects the radio and the stream to request.
type RadioConfig struct {
	// IP skips discovery when set.
	IP           string  `yaml:"ip"`
	CenterMHz    float64 `yaml:"center_mhz"`
	SampleRate   int     `yaml:"sample_rate"`
	DAXChannel   int     `yaml:"dax_channel"`
	BindClientID string  `yaml:"bind_client_id"`
	// PreferredPanID accepts hex (0x40000000) or decimal.
	PreferredPanID string `yaml:"preferred_pan_id"`
	// UDPPort 0 picks an ephemeral port.
	UDPPort int `yaml:"udp_port"`
}

// TimingConfig holds protocol timeouts and settle delays.
type TimingConfig struct {
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	PanGrace         time.Duration `yaml:"pan_grace"`
	StatusSettle     time.Duration `yaml:"status_settle"`
	ClientSettle     time.Duration `yaml:"client_settle"`
	ReadDeadline     time.Duration `yaml:"read_deadline"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeat_jitter"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
}

// ReceiverConfig sizes the packet receiver.
type ReceiverConfig struct {
	QueueSize  int `yaml:"queue_size"`
	ReadBuffer int `yaml:"read_buffer"`
}

// LoggingConfig controls log level and optional rotated file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuditConfig controls the command audit log.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// APIConfig controls the HTTP API. An empty Addr disables it.
type APIConfig struct {
	Addr string     `yaml:"addr"`
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures bearer token verification. An empty Secret and
// PublicKeyPEM disables authentication.
type AuthConfig struct {
	Algorithm    string `yaml:"algorithm"`
	Secret       string `yaml:"secret"`
	PublicKeyPEM string `yaml:"public_key_pem"`
}

// MQTTConfig controls status publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Interval    time.Duration `yaml:"interval"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Radio: RadioConfig{
			CenterMHz:  50.26,
			SampleRate: 96000,
			DAXChannel: 1,
		},
		Timing: TimingConfig{
			CommandTimeout:    5 * time.Second,
			DiscoveryTimeout:  3 * time.Second,
			PanGrace:          250 * time.Millisecond,
			StatusSettle:      200 * time.Millisecond,
			ClientSettle:      500 * time.Millisecond,
			ReadDeadline:      time.Second,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
			EventBufferSize:   50,
		},
		Receiver: ReceiverConfig{
			QueueSize:  200,
			ReadBuffer: 4 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		API: APIConfig{
			Addr: ":8000",
			Auth: AuthConfig{Algorithm: "HS256"},
		},
		MQTT: MQTTConfig{
			TopicPrefix: "daxiq",
			Interval:    10 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// PreferredPan parses Radio.PreferredPanID. Empty means no preference.
func (c *Config) PreferredPan() (uint32, error) {
	return ParsePanID(c.Radio.PreferredPanID)
}

// ParsePanID accepts a panadapter id as 0x-prefixed hex or decimal.
func ParsePanID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid pan id %q: %w", s, err)
	}
	return uint32(v), nil
}
