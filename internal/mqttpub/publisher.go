package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/radio-control/daxiq/internal/config"
	"github.com/radio-control/daxiq/internal/session"
)

const (
	streamPoll     = time.Second
	publishTimeout = 5 * time.Second
)

// SnapshotSource supplies the session view to publish.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// client is the subset of mqtt.Client used here.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// StatusPayload is published on <prefix>/status.
type StatusPayload struct {
	Timestamp int64            `json:"timestamp"`
	Session   session.Snapshot `json:"session"`
}

// StreamPayload is published retained on <prefix>/stream.
type StreamPayload struct {
	Timestamp    int64   `json:"timestamp"`
	Running      bool    `json:"running"`
	State        string  `json:"state"`
	StreamID     string  `json:"stream_id,omitempty"`
	PanID        string  `json:"pan_id,omitempty"`
	FrequencyMHz float64 `json:"frequency_mhz"`
	BandwidthHz  float64 `json:"bandwidth_hz"`
	UDPPort      int     `json:"udp_port,omitempty"`
}

// Publisher periodically publishes snapshots.
type Publisher struct {
	client client
	cfg    config.MQTTConfig
	src    SnapshotSource

	mu         sync.Mutex
	lastStream string

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// generateClientID creates a random client ID for the MQTT connection.
func generateClientID() string {
	return "daxiqd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// New connects to cfg.Broker. The client reconnects on its own after the
// first connection succeeds.
func New(cfg config.MQTTConfig, src SnapshotSource) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Broker side notice when daxiqd disappears without a clean stop.
	opts.SetWill(Topic(cfg.TopicPrefix, "stream"), `{"running":false,"state":"GONE"}`, 1, true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[INFO] MQTT: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] MQTT: connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Printf("[INFO] MQTT: attempting to reconnect")
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newPublisher(c, cfg, src), nil
}

func newPublisher(c client, cfg config.MQTTConfig, src SnapshotSource) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Publisher{
		client: c,
		cfg:    cfg,
		src:    src,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Topic joins prefix and name.
func Topic(prefix, name string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// BuildStatus encodes the status payload.
func BuildStatus(snap session.Snapshot, now time.Time) ([]byte, error) {
	return json.Marshal(StatusPayload{Timestamp: now.Unix(), Session: snap})
}

// BuildStream encodes the stream payload.
func BuildStream(snap session.Snapshot, now time.Time) ([]byte, error) {
	return json.Marshal(StreamPayload{
		Timestamp:    now.Unix(),
		Running:      snap.Running,
		State:        snap.State,
		StreamID:     snap.StreamID,
		PanID:        snap.PanID,
		FrequencyMHz: snap.FrequencyMHz,
		BandwidthHz:  snap.BandwidthHz,
		UDPPort:      snap.UDPPort,
	})
}

// streamKey identifies a stream change worth a retained update.
func streamKey(snap session.Snapshot) string {
	return fmt.Sprintf("%t|%s|%s", snap.Running, snap.State, snap.StreamID)
}

// Start publishes in the background until ctx ends or Stop.
func (p *Publisher) Start(ctx context.Context) {
	p.started.Store(true)
	go p.run(ctx)
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	status := time.NewTicker(p.cfg.Interval)
	defer status.Stop()
	poll := time.NewTicker(streamPoll)
	defer poll.Stop()

	p.PublishStatus()
	p.PublishStreamIfChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-status.C:
			p.PublishStatus()
		case <-poll.C:
			p.PublishStreamIfChanged()
		}
	}
}

// PublishStatus publishes the current snapshot on <prefix>/status.
func (p *Publisher) PublishStatus() {
	payload, err := BuildStatus(p.src.Snapshot(), time.Now())
	if err != nil {
		log.Printf("[ERROR] MQTT: failed to encode status: %v", err)
		return
	}
	p.publish(Topic(p.cfg.TopicPrefix, "status"), false, payload)
}

// PublishStreamIfChanged publishes <prefix>/stream when the stream changed
// since the last publish. It reports whether it published.
func (p *Publisher) PublishStreamIfChanged() bool {
	snap := p.src.Snapshot()
	key := streamKey(snap)

	p.mu.Lock()
	if key == p.lastStream {
		p.mu.Unlock()
		return false
	}
	p.lastStream = key
	p.mu.Unlock()

	payload, err := BuildStream(snap, time.Now())
	if err != nil {
		log.Printf("[ERROR] MQTT: failed to encode stream: %v", err)
		return false
	}
	p.publish(Topic(p.cfg.TopicPrefix, "stream"), true, payload)
	return true
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("[WARN] MQTT: publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("[WARN] MQTT: publish to %s failed: %v", topic, err)
		return
	}
	log.Printf("[DEBUG] MQTT: published %d bytes to %s", len(payload), topic)
}

// Stop publishes a final stream update and disconnects.
func (p *Publisher) Stop() {
	p.once.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
		}
		p.PublishStreamIfChanged()
		p.client.Disconnect(250)
	})
}
