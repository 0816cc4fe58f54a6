package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: sqlite
  url: /tmp/pilot.db
engine:
  window_days: 14
  audit_flush_interval: 2s
`), 0o600))
	t.Setenv("ENGINE_LEARNING_RATE", "0.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 14, cfg.Engine.WindowDays)
	assert.Equal(t, 2*time.Second, cfg.Engine.AuditFlushInterval)
	assert.Equal(t, 0.5, cfg.Engine.LearningRate)
	assert.True(t, cfg.Engine.DryRun)
	assert.Equal(t, ":9000", cfg.Server.Addr())
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\n"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestAuditItemKey(t *testing.T) {
	assert.Equal(t, "inboxpilot:audit:item:m-1", AuditItemKey("m-1"))
}
