package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/broadcast"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/digest"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/project"
	"github.com/zulandar/signalbox/internal/registry"
	"github.com/zulandar/signalbox/internal/router"
	"github.com/zulandar/signalbox/internal/server"
	"github.com/zulandar/signalbox/internal/task"
	"github.com/zulandar/signalbox/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket and HTTP server",
		Long:  "Connects to the database, migrates it, and serves /ws, the REST API, and /metrics until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, envFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "signalbox.yaml", "path to Signalbox config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

// app is the fully wired service.
type app struct {
	hub    *broadcast.Hub
	agents *registry.Registry
	digest *digest.Digest
	server *server.Server
}

func runServe(cmd *cobra.Command, configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := cfg.Log.Logger(cmd.ErrOrStderr())
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := buildApp(cfg, reg, log)
	if err != nil {
		return err
	}
	defer a.agents.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return a.run(ctx, cfg.Listen, cmd.OutOrStdout())
}

// run starts the hub and digest loops and blocks serving HTTP until ctx is done.
func (a *app) run(ctx context.Context, addr string, out io.Writer) error {
	go a.hub.Run(ctx)
	go a.digest.Run(ctx)
	return a.server.Start(ctx, addr, out)
}

// buildApp wires every component from cfg. Metrics register on reg.
func buildApp(cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (*app, error) {
	gdb, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	models := llm.NewRegistry(llm.RegistryOpts{Providers: providersFromConfig(cfg)})
	if _, err := models.Client(cfg.DefaultModel); err != nil {
		return nil, fmt.Errorf("default model %s: %w", cfg.DefaultModel, err)
	}

	hub := broadcast.NewHub(broadcast.HubOpts{
		SendBuffer: cfg.WebSocket.SendBuffer,
		Metrics:    broadcast.NewMetrics(reg),
		Logger:     log.With("component", "hub"),
	})

	led, err := ledger.New(ledger.Opts{
		DB:        gdb,
		Publisher: hub,
		Metrics:   ledger.NewMetrics(reg),
		Logger:    log.With("component", "ledger"),
	})
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}

	agents, err := registry.New(registry.Opts{
		DB:           gdb,
		Models:       models,
		Ledger:       led,
		Publisher:    hub,
		Workspace:    ws,
		SpecDir:      cfg.Workspace.SpecDir,
		DefaultModel: cfg.DefaultModel,
		Capacity:     cfg.Registry.Capacity,
		MemoryWindow: cfg.Session.MemoryWindow,
		UsagePolicy:  agent.UsagePolicy(cfg.Session.UsagePolicy),
		MaxToolSteps: cfg.Session.MaxToolSteps,
		Logger:       log.With("component", "registry"),
	})
	if err != nil {
		return nil, err
	}

	selector, err := project.NewSelector(gdb, cfg.DefaultProjectID)
	if err != nil {
		return nil, err
	}

	pipeline, err := task.New(task.Opts{
		Agents:          agents,
		Workspace:       ws,
		Publisher:       hub,
		MaxContextFiles: cfg.Workspace.MaxContextFiles,
		Logger:          log.With("component", "task"),
	})
	if err != nil {
		return nil, err
	}

	rt, err := router.New(router.Opts{
		Agents:    agents,
		Tasks:     pipeline,
		Projects:  selector,
		Publisher: hub,
		Metrics:   router.NewMetrics(reg),
		Logger:    log.With("component", "router"),
	})
	if err != nil {
		return nil, err
	}

	wsServer, err := broadcast.NewServer(broadcast.ServerOpts{
		Hub:          hub,
		Handler:      rt,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PongTimeout:  cfg.WebSocket.PongTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		ReadLimit:    cfg.WebSocket.ReadLimit,
		Logger:       log.With("component", "ws"),
	})
	if err != nil {
		return nil, err
	}

	dg, err := digest.New(digest.Opts{
		Schedule:  cfg.Digest.Schedule,
		Ledger:    led,
		Projects:  selector,
		Publisher: hub,
		Logger:    log.With("component", "digest"),
	})
	if err != nil {
		return nil, err
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	srv, err := server.New(server.Opts{
		DB:        gdb,
		Models:    models,
		Agents:    agents,
		Ledger:    led,
		Projects:  selector,
		Hub:       hub,
		WebSocket: wsServer,
		Gatherer:  gatherer,
		Logger:    log.With("component", "http"),
	})
	if err != nil {
		return nil, err
	}

	return &app{hub: hub, agents: agents, digest: dg, server: srv}, nil
}

// providersFromConfig returns the mock provider plus every provider with an API key.
func providersFromConfig(cfg *config.Config) []llm.Provider {
	providers := []llm.Provider{llm.NewMockProvider()}
	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(p.APIKey, p.BaseURL))
	}
	if p := cfg.Providers.Anthropic; p.APIKey != "" {
		providers = append(providers, llm.NewAnthropicProvider(p.APIKey, p.BaseURL))
	}
	return providers
}
