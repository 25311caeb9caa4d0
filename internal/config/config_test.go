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

// inTempDir runs the test from an empty directory so only the config
// files it writes are found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "checkpool:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "checkpool.items.resolved", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Security.Signature.Enabled)
	assert.Equal(t, 300, cfg.Security.Signature.MaxSkewSecs)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.Security.RateLimit.MaxRequests)
	assert.Equal(t, 60, cfg.Security.RateLimit.WindowSecs)
	assert.Equal(t, "memory", cfg.Security.RateLimit.Backend)
	assert.Equal(t, 30, cfg.Settings.RefreshSecs)
	assert.Equal(t, 168, cfg.Cache.TTLHours)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, "stock", cfg.Lease.StockOwner)
	assert.Equal(t, 50, cfg.Lease.MaxBatch)
	assert.Equal(t, 0, cfg.Lease.TTLSecs)
	assert.Equal(t, "memory", cfg.Usage.Backend)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 60, cfg.Monitoring.AlertCooldownMins)
}

func TestLoadFromYAML(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
security:
  allowlist:
    enabled: true
    entries: ["10.0.0.0/8", "192.168.1.7"]
pricing:
  default_per_item: 0.25
  per_check_type:
    2: 0.5
auth:
  tokens:
    tok-abc: worker-1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Security.Allowlist.Enabled)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.Security.Allowlist.Entries)
	assert.InDelta(t, 0.25, cfg.Pricing.DefaultPerItem, 0.0001)
	assert.InDelta(t, 0.5, cfg.Pricing.PerCheckType[2], 0.0001)
	assert.Equal(t, "worker-1", cfg.Auth.Tokens["tok-abc"])
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Lease.MaxBatch)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CHECKPOOL_STORE_DRIVER", "postgres")
	t.Setenv("CHECKPOOL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	inTempDir(t)

	t.Setenv("CHECKPOOL_SERVER_PORT", "3000")
	t.Setenv("CHECKPOOL_LEASE_TTL_SECS", "600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 600, cfg.Lease.TTLSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := inTempDir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Redis.Password = "hunter2"
	cfg.Security.Signature.Secret = "s3cret"
	cfg.Store.DatabaseURL = "postgres://u:p@db/checkpool"
	cfg.Auth.Tokens = map[string]string{"tok-abc": "worker-1"}

	out := cfg.Redacted()
	assert.Equal(t, "********", out.Redis.Password)
	assert.Equal(t, "********", out.Security.Signature.Secret)
	assert.Equal(t, "********", out.Store.DatabaseURL)
	assert.NotContains(t, out.Auth.Tokens, "tok-abc")
	assert.Equal(t, "worker-1", out.Auth.Tokens["redacted-1"])

	// Original is untouched.
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "worker-1", cfg.Auth.Tokens["tok-abc"])
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
