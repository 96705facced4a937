package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"broker_go/internal/event"
)

// Monitor is the slice of the change detector the hub drives: the poll
// timer only runs while at least one real-time client is attached.
type Monitor interface {
	AddSubscriber()
	RemoveSubscriber()
}

// SnapshotFunc produces the initialSnapshot event for a freshly
// attached subscriber of one instrument.
type SnapshotFunc func(ctx context.Context, instrumentID string) (event.InitialSnapshotEvent, error)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongTimeout   = 60 * time.Second
	clientBacklog = 64
)

// Hub is the broadcast/subscriber registry: it fans engine events out
// to connected websocket clients, per instrument or on the global
// feed. Slow clients lose events rather than block the engine.
type Hub struct {
	monitor  Monitor
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a hub. monitor may be nil when the detector lifecycle is
// managed elsewhere (tests).
func New(monitor Monitor, snapshot SnapshotFunc) *Hub {
	return &Hub{
		monitor:  monitor,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// SetMonitor attaches the detector lifecycle after construction.
// Called during wiring, before the hub serves connections.
func (h *Hub) SetMonitor(m Monitor) { h.monitor = m }

// SetSnapshotFunc attaches the initial-snapshot producer after
// construction.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) { h.snapshot = fn }

// envelope is the wire frame: the event name plus its payload.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func marshalEvent(ev event.Event) ([]byte, error) {
	return json.Marshal(envelope{Event: ev.GetType().String(), Data: ev})
}

// Publish fans an event out to every subscriber of its instrument and
// of the global feed. Never blocks the caller.
func (h *Hub) Publish(ev event.Event) {
	payload, err := marshalEvent(ev)
	if err != nil {
		slog.Error("Failed to marshal broadcast event", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.GetInstrument()) {
			continue
		}
		select {
		case c.out <- payload:
		default:
			// Client backlog full: drop this event for it.
			slog.Debug("Dropping event for slow subscriber",
				slog.String("instrument", c.instrumentID))
		}
	}
}

// ClientCount returns the number of attached subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a websocket subscription. The
// optional "instrument" query parameter narrows the feed; absent means
// the global feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.URL.Query().Get("instrument")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WS upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:         conn,
		out:          make(chan []byte, clientBacklog),
		instrumentID: instrumentID,
		done:         make(chan struct{}),
	}

	h.register(c)
	defer h.unregister(c)

	if h.snapshot != nil && instrumentID != "" {
		snap, err := h.snapshot(r.Context(), instrumentID)
		if err != nil {
			slog.Warn("Initial snapshot failed",
				slog.String("instrument", instrumentID), slog.Any("error", err))
		} else if payload, err := marshalEvent(snap); err == nil {
			c.out <- payload
		}
	}

	go c.writePump()
	c.readPump() // blocks until the peer goes away
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.monitor != nil {
		h.monitor.AddSubscriber()
	}
	slog.Info("Subscriber attached", slog.String("instrument", c.instrumentID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !known {
		return
	}

	c.close()
	if h.monitor != nil {
		h.monitor.RemoveSubscriber()
	}
	slog.Info("Subscriber detached", slog.String("instrument", c.instrumentID))
}

// client is one attached websocket subscriber.
type client struct {
	conn         *websocket.Conn
	out          chan []byte
	instrumentID string // "" subscribes to the global feed

	closeOnce sync.Once
	done      chan struct{}
}

// wants reports whether this client should receive events for the
// given instrument.
func (c *client) wants(instrumentID string) bool {
	return c.instrumentID == "" || c.instrumentID == instrumentID
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound frames; its job is noticing disconnects
// and keeping the pong deadline fresh.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
