// Package broadcast fans outbound wire events out to every connected display
// client and mirrors them to the structured log.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zulandar/signalbox/internal/wire"
)

const (
	defaultSendBuffer = 256
	logPreviewLen     = 100
)

// Conn is one tracked client connection.
type Conn struct {
	ID   string
	ws   *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

// Metrics exposes hub gauges and counters.
type Metrics struct {
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics creates the hub metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalbox",
			Name:      "ws_connections",
			Help:      "Currently connected display clients.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "events_published_total",
			Help:      "Wire events published, by content type.",
		}, []string{"type"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "ws_connections_dropped_total",
			Help:      "Connections removed after a failed send.",
		}),
	}
}

// HubOpts holds parameters for NewHub.
type HubOpts struct {
	SendBuffer int // per-connection queue length
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Hub tracks client connections and broadcasts events to all of them.
// Events published by one goroutine reach each connection in publish order.
type Hub struct {
	conns map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan []byte
	done       chan struct{}

	sendBuffer int
	metrics    *Metrics
	log        *slog.Logger

	mu sync.RWMutex
}

// NewHub creates a Hub. Call Run to start delivering events.
func NewHub(opts HubOpts) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		sendBuffer: opts.SendBuffer,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, after closing
// every connection's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.conns {
				delete(h.conns, id)
				close(c.send)
			}
			h.metrics.connections.Set(0)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.conns[c.ID] = c
			h.metrics.connections.Set(float64(len(h.conns)))
			h.mu.Unlock()
			h.log.Debug("connection registered", "conn", c.ID)

		case c := <-h.unregister:
			h.remove(c)

		case data := <-h.broadcast:
			h.mu.RLock()
			var failed []*Conn
			for _, c := range h.conns {
				select {
				case c.send <- data:
				default:
					failed = append(failed, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range failed {
				h.log.Warn("send buffer full, dropping connection", "conn", c.ID)
				h.metrics.dropped.Inc()
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	delete(h.conns, c.ID)
	close(c.send)
	h.metrics.connections.Set(float64(len(h.conns)))
	h.log.Debug("connection unregistered", "conn", c.ID)
}

// NewConn wraps ws in a Conn. It is not tracked until Register.
func (h *Hub) NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:   uuid.New().String(),
		ws:   ws,
		send: make(chan []byte, h.sendBuffer),
	}
}

// Subscribe registers a Conn with no socket behind it. Encoded events arrive
// on Events until Unregister or hub shutdown.
func (h *Hub) Subscribe() *Conn {
	c := h.NewConn(nil)
	h.Register(c)
	return c
}

// Events returns the connection's queue of encoded events. It is closed when
// the connection is unregistered.
func (c *Conn) Events() <-chan []byte {
	return c.send
}

// Register starts delivering events to c.
func (h *Hub) Register(c *Conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister stops delivering events to c and closes its send queue.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish logs ev and queues it for every tracked connection.
func (h *Hub) Publish(ev wire.Event) {
	h.logEvent(ev)
	h.metrics.events.WithLabelValues(string(ev.Type)).Inc()
	select {
	case h.broadcast <- ev.Encode():
	case <-h.done:
	}
}

// ConnectionCount returns the number of tracked connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) logEvent(ev wire.Event) {
	switch ev.Type {
	case wire.Error:
		h.log.Error(ev.Content, "source", ev.Source)
	case wire.System:
		h.log.Info(ev.Content, "source", ev.Source)
	default:
		h.log.Debug(preview(ev.Content), "source", ev.Source, "type", string(ev.Type))
	}
}

// preview truncates s to logPreviewLen bytes, marking the cut.
func preview(s string) string {
	if len(s) <= logPreviewLen {
		return s
	}
	return s[:logPreviewLen] + "..."
}

var _ wire.Publisher = (*Hub)(nil)
