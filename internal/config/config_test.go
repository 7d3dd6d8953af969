package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
listen: ":9100"
default_model: claude-3-5-haiku-20241022
default_project_id: 3

database:
  driver: postgres
  dsn: postgres://signalbox:secret@db:5432/signalbox

providers:
  openai:
    api_key: sk-file
  anthropic:
    api_key: ak-file
    base_url: http://proxy.local

registry:
  capacity: 32

session:
  memory_window: 6
  usage_policy: partial

websocket:
  write_timeout: 5s
  pong_timeout: 30s
  ping_interval: 20s

workspace:
  root: /srv/work
  max_context_files: 5

digest:
  schedule: "0 * * * *"

log:
  level: debug
  format: json
`

// clearEnv blanks every variable applyEnv reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "DATABASE_DRIVER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"DEFAULT_MODEL", "PORT", "LOG_LEVEL", "DEFAULT_PROJECT_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestParse_FullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.DefaultModel)
	assert.EqualValues(t, 3, cfg.DefaultProjectID)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "http://proxy.local", cfg.Providers.Anthropic.BaseURL)
	assert.Equal(t, 32, cfg.Registry.Capacity)
	assert.Equal(t, 6, cfg.Session.MemoryWindow)
	assert.Equal(t, UsagePartial, cfg.Session.UsagePolicy)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 5, cfg.Workspace.MaxContextFiles)
	assert.Equal(t, "0 * * * *", cfg.Digest.Schedule)
}

func TestParse_Empty_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	assert.EqualValues(t, 1, cfg.DefaultProjectID)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "signalbox.db", cfg.Database.DSN)
	assert.Equal(t, 256, cfg.Registry.Capacity)
	assert.Equal(t, 10, cfg.Session.MemoryWindow)
	assert.Equal(t, UsageForfeit, cfg.Session.UsagePolicy)
	assert.Equal(t, 3, cfg.Session.MaxToolSteps)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 20, cfg.Workspace.MaxContextFiles)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/sb")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DEFAULT_MODEL", "gpt-4o")
	t.Setenv("PORT", "9000")
	t.Setenv("DEFAULT_PROJECT_ID", "7")

	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost:5432/sb", cfg.Database.DSN)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "ak-file", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.EqualValues(t, 7, cfg.DefaultProjectID)
}

func TestDriverFromDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://u@h/db", "postgres"},
		{"postgresql://u@h/db", "postgres"},
		{"root@tcp(127.0.0.1:3306)/sb?parseTime=true", "mysql"},
		{"file:signalbox.db", "sqlite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, driverFromDSN(tt.dsn), tt.dsn)
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	clearEnv(t)
	yaml := `
database:
  driver: oracle
session:
  usage_policy: sometimes
log:
  format: xml
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	for _, want := range []string{
		"config: validation failed:",
		`database.driver "oracle"`,
		"database.dsn is required",
		`session.usage_policy "sometimes"`,
		`log.format "xml"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParse_PingMustBeShorterThanPong(t *testing.T) {
	clearEnv(t)
	yaml := `
websocket:
  pong_timeout: 10s
  ping_interval: 10s
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_interval must be shorter")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse:")
}

func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "signalbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullYAML), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Listen)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/signalbox.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestLoadOptional_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Listen)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ANTHROPIC_API_KEY=ak-dotenv\n"), 0644))
	// godotenv.Load never overrides variables that are already set.
	os.Unsetenv("ANTHROPIC_API_KEY")
	t.Cleanup(func() { os.Unsetenv("ANTHROPIC_API_KEY") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "ak-dotenv", os.Getenv("ANTHROPIC_API_KEY"))
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
