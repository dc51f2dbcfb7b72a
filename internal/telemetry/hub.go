package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types published by the session.
const (
	EventReady     = "ready"
	EventSession   = "session"
	EventStream    = "stream"
	EventTune      = "tune"
	EventLoss      = "loss"
	EventFault     = "fault"
	EventHeartbeat = "heartbeat"
)

// Event is one telemetry message.
type Event struct {
	ID     int64                  `json:"id,omitempty"`
	Type   string                 `json:"type"`
	Data   map[string]interface{} `json:"data"`
	Source string                 `json:"source,omitempty"`
}

// Options configures a Hub.
type Options struct {
	EventBufferSize   int
	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration

	// Snapshot supplies the payload of the ready event sent on subscribe.
	Snapshot func() map[string]interface{}
}

type client struct {
	id     string
	w      http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	source string
	events chan Event
	mu     sync.Mutex
}

// Hub fans events out to SSE clients.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]*client
	ids     map[string]*int64
	buffers map[string]*EventBuffer

	heartbeatStop chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewHub creates a hub. The heartbeat runs only while clients are connected.
func NewHub(opts Options) *Hub {
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 50
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Hub{
		opts:    opts,
		clients: make(map[string]*client),
		ids:     make(map[string]*int64),
		buffers: make(map[string]*EventBuffer),
		done:    make(chan struct{}),
	}
}

// Subscribe serves one SSE client until it disconnects or the hub stops.
// The optional "source" query parameter selects the replay buffer used with
// Last-Event-ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     uuid.NewString(),
		w:      w,
		ctx:    ctx,
		cancel: cancel,
		source: r.URL.Query().Get("source"),
		events: make(chan Event, 100),
	}

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	if h.heartbeatStop == nil {
		h.startHeartbeatLocked()
	}
	h.mu.Unlock()
	defer h.unregister(c.id)

	if err := h.write(c, h.readyEvent(c.source)); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}
	if lastID > 0 {
		for _, ev := range h.replay(c.source, lastID) {
			if err := h.write(c, ev); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case ev := <-c.events:
			if err := h.write(c, ev); err != nil {
				return nil
			}
		}
	}
}

// Publish assigns an id, buffers the event under its source and offers it
// to every client. Slow clients miss events rather than block the caller.
func (h *Hub) Publish(ev Event) {
	select {
	case <-h.done:
		return
	default:
	}

	if ev.ID == 0 {
		ev.ID = h.nextID(ev.Source)
	}
	if ev.Source != "" {
		h.buffer(ev.Source).Add(ev)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.events <- ev:
		default:
		}
	}
}

// PublishSource publishes an event of type typ for source.
func (h *Hub) PublishSource(source, typ string, data map[string]interface{}) {
	h.Publish(Event{Type: typ, Data: data, Source: source})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Buffered returns the buffered events for source after lastID.
func (h *Hub) Buffered(source string, lastID int64) []Event {
	return h.replay(source, lastID)
}

func (h *Hub) readyEvent(source string) Event {
	data := map[string]interface{}{}
	if h.opts.Snapshot != nil {
		data["snapshot"] = h.opts.Snapshot()
	}
	return Event{ID: h.nextID(source), Type: EventReady, Data: data}
}

func (h *Hub) replay(source string, lastID int64) []Event {
	h.mu.RLock()
	buf, ok := h.buffers[source]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.After(lastID)
}

func (h *Hub) write(c *client, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.cancel()
	delete(h.clients, id)

	if len(h.clients) == 0 && h.heartbeatStop != nil {
		close(h.heartbeatStop)
		h.heartbeatStop = nil
	}
}

func (h *Hub) nextID(source string) int64 {
	if source == "" {
		source = "global"
	}
	h.mu.RLock()
	counter, ok := h.ids[source]
	h.mu.RUnlock()
	if ok {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, ok = h.ids[source]
	if !ok {
		counter = new(int64)
		h.ids[source] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

// buffer returns the ring for source. Rings are never removed.
func (h *Hub) buffer(source string) *EventBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.buffers[source]
	if !ok {
		buf = NewEventBuffer(h.opts.EventBufferSize)
		h.buffers[source] = buf
	}
	return buf
}

// startHeartbeatLocked starts the heartbeat loop. h.mu must be held.
func (h *Hub) startHeartbeatLocked() {
	interval := h.opts.HeartbeatInterval + h.opts.HeartbeatJitter/2
	stop := make(chan struct{})
	h.heartbeatStop = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects every client and ends the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		h.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
		}
	})
}
