package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "incentive.db", cfg.Store.DSN)
	assert.Equal(t, "incentives", cfg.Mongo.Database)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "ADMIN", cfg.Auth.AdminRole)
	assert.True(t, cfg.Settlement.Enabled)
	assert.Equal(t, time.Hour, cfg.Settlement.Interval)
	assert.Equal(t, int64(512), cfg.Narrator.MaxTokens)
	assert.Equal(t, 30, cfg.Narrator.RequestsPerMinute)
	assert.False(t, cfg.NarratorEnabled())
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  dsn: postgres://localhost/incentives
log:
  level: debug
  format: console
settlement:
  interval: 15m
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/incentives", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 15*time.Minute, cfg.Settlement.Interval)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INCENTIVE_STORE_DRIVER", "memory")
	t.Setenv("INCENTIVE_NARRATOR_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.NarratorEnabled())
}

func TestLoadRejectsAuthWithoutSecret(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INCENTIVE_AUTH_ENABLED", "true")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Store:      StoreConfig{Driver: "cassandra", DSN: "x"},
		Settlement: SettlementConfig{Enabled: false},
	}
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = DriverMongo
	assert.NoError(t, cfg.Validate())

	cfg.Store.DSN = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = DriverMemory
	assert.NoError(t, cfg.Validate())
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
