// Package server exposes the HTTP API, the WebSocket endpoint and the
// event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/broadcast"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/project"
	"gorm.io/gorm"
)

const shutdownTimeout = 5 * time.Second

// Agents is the subset of the agent registry the API uses.
type Agents interface {
	Spawn(ctx context.Context, projectID uint, role agent.Role, model string) (*agent.Session, error)
	UpdateModel(ctx context.Context, id, model string) error
}

// Totaler reads summed project usage.
type Totaler interface {
	ProjectTotals(ctx context.Context, projectID uint) (ledger.Totals, error)
}

// Opts holds parameters for New.
type Opts struct {
	DB        *gorm.DB
	Models    *llm.Registry
	Agents    Agents
	Ledger    Totaler
	Projects  *project.Selector
	Hub       *broadcast.Hub
	WebSocket http.Handler        // mounted at /ws
	Gatherer  prometheus.Gatherer // served at /metrics; defaults to prometheus.DefaultGatherer
	Heartbeat time.Duration       // /events keepalive interval
	Logger    *slog.Logger
}

// Server is the gin engine with every route registered.
type Server struct {
	engine *gin.Engine
	log    *slog.Logger
}

// New validates opts and builds the route table.
func New(opts Opts) (*Server, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("server: db is required")
	case opts.Models == nil:
		return nil, fmt.Errorf("server: model registry is required")
	case opts.Agents == nil:
		return nil, fmt.Errorf("server: agents are required")
	case opts.Ledger == nil:
		return nil, fmt.Errorf("server: ledger is required")
	case opts.Projects == nil:
		return nil, fmt.Errorf("server: project selector is required")
	case opts.Hub == nil:
		return nil, fmt.Errorf("server: hub is required")
	case opts.WebSocket == nil:
		return nil, fmt.Errorf("server: websocket handler is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger), allowCORS())
	registerRoutes(engine, &handlers{opts: opts, log: opts.Logger})

	return &Server{engine: engine, log: opts.Logger}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string, out io.Writer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", "error", err)
		}
	}()

	if out != nil {
		fmt.Fprintf(out, "Signalbox listening on %s\n", addr)
	}
	s.log.Info("server started", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger logs each request at debug level, or warn for 5xx.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// allowCORS lets display clients served from other origins call the API.
func allowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
