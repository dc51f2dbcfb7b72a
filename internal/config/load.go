package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and DAXIQ_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys missing from the file
// keep their current value.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	// Radio
	if val := os.Getenv("DAXIQ_RADIO_IP"); val != "" {
		cfg.Radio.IP = val
	}
	if val := os.Getenv("DAXIQ_CENTER_MHZ"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Radio.CenterMHz = f
		}
	}
	if val := os.Getenv("DAXIQ_SAMPLE_RATE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.SampleRate = n
		}
	}
	if val := os.Getenv("DAXIQ_DAX_CHANNEL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.DAXChannel = n
		}
	}
	if val := os.Getenv("DAXIQ_BIND_CLIENT_ID"); val != "" {
		cfg.Radio.BindClientID = val
	}
	if val := os.Getenv("DAXIQ_PREFERRED_PAN_ID"); val != "" {
		cfg.Radio.PreferredPanID = val
	}
	if val := os.Getenv("DAXIQ_UDP_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.UDPPort = n
		}
	}

	// Timing
	envDuration("DAXIQ_COMMAND_TIMEOUT", &cfg.Timing.CommandTimeout)
	envDuration("DAXIQ_DISCOVERY_TIMEOUT", &cfg.Timing.DiscoveryTimeout)
	envDuration("DAXIQ_PAN_GRACE", &cfg.Timing.PanGrace)
	envDuration("DAXIQ_STATUS_SETTLE", &cfg.Timing.StatusSettle)
	envDuration("DAXIQ_CLIENT_SETTLE", &cfg.Timing.ClientSettle)
	envDuration("DAXIQ_HEARTBEAT_INTERVAL", &cfg.Timing.HeartbeatInterval)

	// Logging
	if val := os.Getenv("DAXIQ_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("DAXIQ_LOG_FILE"); val != "" {
		cfg.Logging.File = val
	}

	// API
	if val := os.Getenv("DAXIQ_API_ADDR"); val != "" {
		cfg.API.Addr = val
	}
	if val := os.Getenv("DAXIQ_AUTH_SECRET"); val != "" {
		cfg.API.Auth.Secret = val
	}

	// MQTT
	if val := os.Getenv("DAXIQ_MQTT_BROKER"); val != "" {
		cfg.MQTT.Broker = val
	}
	if val := os.Getenv("DAXIQ_MQTT_USERNAME"); val != "" {
		cfg.MQTT.Username = val
	}
	if val := os.Getenv("DAXIQ_MQTT_PASSWORD"); val != "" {
		cfg.MQTT.Password = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
