package config

import (
	"fmt"
	"strings"
	"time"
)

var validSampleRates = []int{24000, 48000, 96000, 192000}

var validLogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

var validAuthAlgorithms = []string{"HS256", "RS256"}

// Validate checks cfg for values the client cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateRadio(&cfg.Radio); err != nil {
		return fmt.Errorf("radio validation failed: %w", err)
	}
	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}

	if cfg.Receiver.QueueSize < 1 {
		return fmt.Errorf("receiver queue size must be at least 1, got %d", cfg.Receiver.QueueSize)
	}
	if cfg.Receiver.ReadBuffer < 0 {
		return fmt.Errorf("receiver read buffer must be non-negative, got %d", cfg.Receiver.ReadBuffer)
	}

	if !contains(validLogLevels, strings.ToUpper(cfg.Logging.Level)) {
		return fmt.Errorf("invalid log level %s, must be one of: %v", cfg.Logging.Level, validLogLevels)
	}
	if !contains(validAuthAlgorithms, cfg.API.Auth.Algorithm) {
		return fmt.Errorf("invalid auth algorithm %s, must be one of: %v", cfg.API.Auth.Algorithm, validAuthAlgorithms)
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Interval <= 0 {
		return fmt.Errorf("mqtt interval must be positive, got %v", cfg.MQTT.Interval)
	}
	return nil
}

func validateRadio(r *RadioConfig) error {
	if r.DAXChannel < 1 || r.DAXChannel > 8 {
		return fmt.Errorf("dax channel %d is outside range [1, 8]", r.DAXChannel)
	}
	if !containsInt(validSampleRates, r.SampleRate) {
		return fmt.Errorf("invalid sample rate %d, must be one of: %v", r.SampleRate, validSampleRates)
	}
	if r.CenterMHz < 0 {
		return fmt.Errorf("center frequency must be non-negative, got %v", r.CenterMHz)
	}
	if r.UDPPort < 0 || r.UDPPort > 65535 {
		return fmt.Errorf("udp port %d is outside range [0, 65535]", r.UDPPort)
	}
	if _, err := ParsePanID(r.PreferredPanID); err != nil {
		return err
	}
	return nil
}

func validateTiming(t *TimingConfig) error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"command timeout", t.CommandTimeout},
		{"discovery timeout", t.DiscoveryTimeout},
		{"read deadline", t.ReadDeadline},
		{"heartbeat interval", t.HeartbeatInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}
	if t.PanGrace < 0 || t.StatusSettle < 0 || t.ClientSettle < 0 {
		return fmt.Errorf("settle delays must be non-negative")
	}
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.EventBufferSize < 1 {
		return fmt.Errorf("event buffer size must be at least 1, got %d", t.EventBufferSize)
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func containsInt(slice []int, item int) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}
