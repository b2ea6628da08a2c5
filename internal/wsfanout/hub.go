// Package wsfanout forwards eventbus events to subscribed dashboard
// WebSocket connections: a single broadcaster goroutine reads the bus
// and a per-connection read/ping pump keeps each socket alive,
// generalized from a single broadcast stream to per-connection
// subscription sets filtering a typed event stream.
package wsfanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sethdford/fleetctl/internal/eventbus"
)

const maxConnections = 500

// broadcastPrefixes name the tag families delivered to every
// authenticated connection regardless of subscription set.
var broadcastPrefixes = []string{"worker.", "swarm.", "workflow.", "trigger.", "bus."}

type connection struct {
	id            string
	ws            *websocket.Conn
	send          chan eventbus.Event
	authenticated bool
	subscribed    map[string]struct{}
	mu            sync.RWMutex
}

func (c *connection) isSubscribed(swarmID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscribed[swarmID]
	return ok
}

func (c *connection) subscribe(swarmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[swarmID] = struct{}{}
}

func (c *connection) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *connection) authenticate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
}

// Authenticator validates a client-supplied token. Kept as an
// interface so tests don't need a real authn.Issuer.
type Authenticator interface {
	ValidateToken(token string) (subject string, err error)
}

type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{WriteTimeout: 10 * time.Second, PingInterval: 30 * time.Second, ReadTimeout: 90 * time.Second}
}

type Hub struct {
	mu    sync.RWMutex
	conns map[*connection]struct{}

	bus    *eventbus.Bus
	sub    *eventbus.Subscription
	auth   Authenticator
	cfg    Config
	logger *slog.Logger

	connGauge prometheus.Gauge
	sentTotal *prometheus.CounterVec
}

func New(bus *eventbus.Bus, auth Authenticator, cfg Config, logger *slog.Logger, registerer prometheus.Registerer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:  make(map[*connection]struct{}),
		bus:    bus,
		auth:   auth,
		cfg:    cfg,
		logger: logger.With("component", "wsfanout"),
	}
	if registerer != nil {
		h.connGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_ws_connections",
			Help: "Currently connected dashboard WebSocket clients.",
		})
		h.sentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_ws_messages_sent_total",
			Help: "Messages forwarded to WS clients, by event type.",
		}, []string{"event_type"})
		registerer.MustRegister(h.connGauge, h.sentTotal)
	}
	if bus != nil {
		h.sub = bus.Subscribe()
		go h.pump()
	}
	return h
}

// pump is the single broadcaster reading the bus and fanning each
// event out to every connection whose subscription rules match; one
// shared reader avoids N duplicate bus subscriptions for N connections.
func (h *Hub) pump() {
	for ev := range h.sub.Events() {
		h.mu.RLock()
		conns := make([]*connection, 0, len(h.conns))
		for c := range h.conns {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		for _, c := range conns {
			if !c.isAuthenticated() {
				continue
			}
			if !h.matches(ev, c) {
				continue
			}
			select {
			case c.send <- ev:
			default:
				h.logger.Warn("dropping event for slow ws client", "conn_id", c.id, "tag", ev.Tag)
			}
		}
	}
}

func (h *Hub) matches(ev eventbus.Event, c *connection) bool {
	for _, prefix := range broadcastPrefixes {
		if hasPrefix(string(ev.Tag), prefix) {
			return true
		}
	}
	if ev.SwarmID == "" {
		return true
	}
	return c.isSubscribed(ev.SwarmID)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Serve runs an already-upgraded connection's read/write pumps until
// it disconnects. Blocks until the connection closes.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, connID string) {
	h.mu.Lock()
	if len(h.conns) >= maxConnections {
		h.mu.Unlock()
		ws.Close()
		h.logger.Warn("rejecting ws connection: max connections reached")
		return
	}
	c := &connection{id: connID, ws: ws, send: make(chan eventbus.Event, 64), subscribed: make(map[string]struct{})}
	h.conns[c] = struct{}{}
	if h.connGauge != nil {
		h.connGauge.Inc()
	}
	h.mu.Unlock()

	defer h.disconnect(c)

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(ctx, c)
	close(done)
}

func (h *Hub) disconnect(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	if h.connGauge != nil {
		h.connGauge.Dec()
	}
	h.mu.Unlock()
	c.ws.Close()
}

type clientMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	SwarmID string `json:"swarmId"`
}

func (h *Hub) readPump(ctx context.Context, c *connection) {
	c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})
	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "auth":
			if h.auth == nil {
				c.authenticate()
				continue
			}
			if _, err := h.auth.ValidateToken(msg.Token); err == nil {
				c.authenticate()
			}
		case "subscribe":
			if msg.SwarmID != "" {
				c.subscribe(msg.SwarmID)
			}
		}
	}
}

func (h *Hub) writePump(c *connection, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
			if h.sentTotal != nil {
				h.sentTotal.WithLabelValues(string(ev.Tag)).Inc()
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
