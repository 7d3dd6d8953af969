package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zulandar/signalbox/internal/wire"
)

// MessageHandler processes one inbound client message. It returns when the
// message is fully handled; the next message on the same connection is not
// read until then.
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw string)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, raw string)

// HandleMessage calls f(ctx, raw).
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, raw string) { f(ctx, raw) }

// ServerOpts holds parameters for NewServer.
type ServerOpts struct {
	Hub          *Hub
	Handler      MessageHandler
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	Logger       *slog.Logger
}

// Server upgrades HTTP requests to WebSocket connections tracked by a Hub.
type Server struct {
	opts     ServerOpts
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a WebSocket Server.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Hub == nil {
		return nil, fmt.Errorf("broadcast: server: hub is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("broadcast: server: handler is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongTimeout {
		opts.PingInterval = opts.PongTimeout * 9 / 10
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Display clients are served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}, nil
}

// ServeHTTP upgrades the request and serves the connection until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.opts.Hub
	conn := hub.NewConn(ws)
	hub.Register(conn)
	hub.Publish(wire.Event{Source: wire.SourceRuntime, Type: wire.System, Content: "Client connected"})

	go s.writePump(conn)
	s.readPump(r.Context(), conn)

	hub.Unregister(conn)
	hub.Publish(wire.Event{Source: wire.SourceRuntime, Type: wire.System, Content: "Client disconnected"})
}

func (s *Server) readPump(ctx context.Context, conn *Conn) {
	defer conn.ws.Close()

	conn.ws.SetReadLimit(s.opts.ReadLimit)
	conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read failed", "conn", conn.ID, "error", err)
			}
			return
		}
		s.opts.Handler.HandleMessage(ctx, string(message))
		// Handling can outlast the pong deadline.
		conn.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	}
}

func (s *Server) writePump(conn *Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				conn.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.write(websocket.TextMessage, message); err != nil {
				s.log.Debug("websocket write failed", "conn", conn.ID, "error", err)
				s.opts.Hub.Unregister(conn)
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				s.opts.Hub.Unregister(conn)
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}
