// Package config provides YAML-based configuration loading for Signalbox.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Usage policies applied when a stream is abandoned before it completes.
const (
	UsageForfeit = "forfeit"
	UsagePartial = "partial"
)

// Config is the top-level Signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Listen           string          `yaml:"listen"`
	DefaultModel     string          `yaml:"default_model"`
	DefaultProjectID uint            `yaml:"default_project_id"`
	Database         DatabaseConfig  `yaml:"database"`
	Providers        ProvidersConfig `yaml:"providers"`
	Registry         RegistryConfig  `yaml:"registry"`
	Session          SessionConfig   `yaml:"session"`
	WebSocket        WebSocketConfig `yaml:"websocket"`
	Workspace        WorkspaceConfig `yaml:"workspace"`
	Digest           DigestConfig    `yaml:"digest"`
	Log              LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the gorm dialector and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
}

// ProvidersConfig holds credentials for the LLM providers.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig holds credentials for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// RegistryConfig bounds the in-memory session cache.
type RegistryConfig struct {
	Capacity int `yaml:"capacity"`
}

// SessionConfig tunes agent sessions.
type SessionConfig struct {
	MemoryWindow int    `yaml:"memory_window"`
	UsagePolicy  string `yaml:"usage_policy"`
	MaxToolSteps int    `yaml:"max_tool_steps"`
}

// WebSocketConfig tunes the /ws endpoint.
type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadLimit    int64         `yaml:"read_limit"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// WorkspaceConfig is where task builders read and write files.
type WorkspaceConfig struct {
	Root            string `yaml:"root"`
	MaxContextFiles int    `yaml:"max_context_files"`
	SpecDir         string `yaml:"spec_dir"`
}

// DigestConfig schedules the periodic usage digest. An empty schedule disables it.
type DigestConfig struct {
	Schedule string `yaml:"schedule"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file is not an error when path is empty; defaults and the
// environment are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOptional behaves like Load but treats a missing file as empty.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	return cfg, err
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.DSN = v
		if c.Database.Driver == "" {
			c.Database.Driver = driverFromDSN(v)
		}
	}
	if v, ok := lookup("DATABASE_DRIVER"); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok && v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v, ok := lookup("DEFAULT_MODEL"); ok && v != "" {
		c.DefaultModel = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Listen = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("DEFAULT_PROJECT_ID"); ok && v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.DefaultProjectID = uint(id)
		}
	}
}

// driverFromDSN guesses the dialector from a URL-style DSN.
func driverFromDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "@tcp("):
		return "mysql"
	default:
		return "sqlite"
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o-mini"
	}
	if c.DefaultProjectID == 0 {
		c.DefaultProjectID = 1
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "signalbox.db"
	}
	if c.Registry.Capacity == 0 {
		c.Registry.Capacity = 256
	}
	if c.Session.MemoryWindow == 0 {
		c.Session.MemoryWindow = 10
	}
	if c.Session.UsagePolicy == "" {
		c.Session.UsagePolicy = UsageForfeit
	}
	if c.Session.MaxToolSteps == 0 {
		c.Session.MaxToolSteps = 3
	}
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = 10 * time.Second
	}
	if c.WebSocket.PongTimeout == 0 {
		c.WebSocket.PongTimeout = 60 * time.Second
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = c.WebSocket.PongTimeout * 9 / 10
	}
	if c.WebSocket.ReadLimit == 0 {
		c.WebSocket.ReadLimit = 1 << 20
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = 256
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	if c.Workspace.MaxContextFiles == 0 {
		c.Workspace.MaxContextFiles = 20
	}
	if c.Workspace.SpecDir == "" {
		c.Workspace.SpecDir = "specs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, postgres, or mysql", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Registry.Capacity < 0 {
		errs = append(errs, "registry.capacity must be >= 0")
	}
	if c.Session.MemoryWindow < 1 {
		errs = append(errs, "session.memory_window must be >= 1")
	}
	if c.Session.UsagePolicy != UsageForfeit && c.Session.UsagePolicy != UsagePartial {
		errs = append(errs, fmt.Sprintf("session.usage_policy %q must be %s or %s", c.Session.UsagePolicy, UsageForfeit, UsagePartial))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		errs = append(errs, "websocket.ping_interval must be shorter than websocket.pong_timeout")
	}
	if c.Workspace.MaxContextFiles < 0 {
		errs = append(errs, "workspace.max_context_files must be >= 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
