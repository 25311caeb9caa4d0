package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
	"github.com/HoangAnhDev1805/checkpool/internal/db"
	"github.com/HoangAnhDev1805/checkpool/internal/events"
	"github.com/HoangAnhDev1805/checkpool/internal/resultcache"
	"github.com/HoangAnhDev1805/checkpool/internal/security"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// sqliteConfig points the global config at a fresh SQLite file with
// process-local backends.
func sqliteConfig(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "checkpool.db"),
		},
		Cache:    config.CacheConfig{Backend: "memory", TTLHours: 1},
		Usage:    config.UsageConfig{Backend: "memory"},
		Lease:    config.LeaseConfig{StockOwner: "stock", MaxBatch: 10},
		Settings: config.SettingsConfig{RefreshSecs: 30},
		Auth:     config.AuthConfig{Tokens: map[string]string{"tok": "worker-1"}},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	sqliteConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, defaultSQLiteDSN))
	assert.NoError(t, statErr)
}

func TestInitStore_PostgresNeedsURL(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_MemoryBackends(t *testing.T) {
	sqliteConfig(t)

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Redis)
	assert.IsType(t, &resultcache.MemoryCache{}, env.Cache)
	assert.IsType(t, &usage.MemoryRecorder{}, env.Usage)
	assert.IsType(t, events.Noop{}, env.Events)
	require.NotNil(t, env.Lease)
	require.NotNil(t, env.Sessions)
	require.NotNil(t, env.Settings)
	assert.NoError(t, env.Store.Ping(context.Background()))
}

func TestInitEnv_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	sqliteConfig(t)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"}
	cfg.Cache.Backend = "redis"
	cfg.Usage.Backend = "redis"

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Redis)
	assert.IsType(t, &resultcache.RedisCache{}, env.Cache)
	assert.IsType(t, &usage.RedisRecorder{}, env.Usage)
}

func TestInitEnv_RedisUnreachable(t *testing.T) {
	sqliteConfig(t)
	cfg.Redis = config.RedisConfig{Addr: "127.0.0.1:1"}
	cfg.Cache.Backend = "redis"

	_, err := initEnv(context.Background())
	assert.Error(t, err)
}

func TestInitEnv_UnsupportedCache(t *testing.T) {
	sqliteConfig(t)
	cfg.Cache.Backend = "memcached"

	_, err := initEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cache backend")
}

func TestInitEvents_Kafka(t *testing.T) {
	cfg = &config.Config{Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}}
	pub := initEvents()
	defer pub.Close() //nolint:errcheck
	assert.IsType(t, &events.KafkaPublisher{}, pub)
}

func TestInitLimiter(t *testing.T) {
	cfg = &config.Config{}

	l, sw, err := initLimiter(nil)
	require.NoError(t, err)
	assert.IsType(t, &security.MemoryLimiter{}, l)
	assert.NotNil(t, sw)

	cfg.Security.RateLimit.Backend = "bucket"
	l, sw, err = initLimiter(nil)
	require.NoError(t, err)
	assert.IsType(t, &security.BucketLimiter{}, l)
	assert.NotNil(t, sw)

	mr := miniredis.RunT(t)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr()}
	cfg.Security.RateLimit.Backend = "redis"
	client, err := db.NewRedis(context.Background(), cfg.Redis)
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck
	l, sw, err = initLimiter(client)
	require.NoError(t, err)
	assert.IsType(t, &security.RedisLimiter{}, l)
	assert.Nil(t, sw)

	cfg.Security.RateLimit.Backend = "nope"
	_, _, err = initLimiter(nil)
	assert.Error(t, err)
}

func TestBuildServer(t *testing.T) {
	sqliteConfig(t)
	cfg.Server.ReadTimeoutSecs = 5

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	srv := buildServer(env, security.NewMemoryLimiter(), 9999)
	assert.Equal(t, ":9999", srv.Addr)
	assert.Equal(t, int64(5), int64(srv.ReadTimeout.Seconds()))

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
