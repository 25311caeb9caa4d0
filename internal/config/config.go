package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Settings   SettingsConfig   `yaml:"settings" mapstructure:"settings"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Lease      LeaseConfig      `yaml:"lease" mapstructure:"lease"`
	Usage      UsageConfig      `yaml:"usage" mapstructure:"usage"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the item store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig holds the shared Redis connection used by the result cache,
// the distributed rate limiter and the usage recorder.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// KafkaConfig configures the resolution event stream. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SecurityConfig holds the static defaults for the security gateway. The
// live values come from the settings accessor and fall back to these.
type SecurityConfig struct {
	Signature SignatureConfig `yaml:"signature" mapstructure:"signature"`
	Allowlist AllowlistConfig `yaml:"allowlist" mapstructure:"allowlist"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SignatureConfig configures HMAC request signing.
type SignatureConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Secret      string `yaml:"secret" mapstructure:"secret" json:"secret"`
	MaxSkewSecs int    `yaml:"max_skew_secs" mapstructure:"max_skew_secs" json:"max_skew_secs"`
}

// AllowlistConfig configures the caller IP allowlist.
type AllowlistConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Entries []string `yaml:"entries" mapstructure:"entries" json:"entries"`
}

// RateLimitConfig configures per-address request limiting.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	MaxRequests       int    `yaml:"max_requests" mapstructure:"max_requests" json:"max_requests"`
	WindowSecs        int    `yaml:"window_secs" mapstructure:"window_secs" json:"window_secs"`
	Backend           string `yaml:"backend" mapstructure:"backend" json:"-"`
	SweepIntervalSecs int    `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs" json:"-"`
}

// SettingsConfig configures the live settings accessor.
type SettingsConfig struct {
	RefreshSecs int `yaml:"refresh_secs" mapstructure:"refresh_secs"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the configured cache expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// LeaseConfig configures the work lease protocol.
type LeaseConfig struct {
	StockOwner          string `yaml:"stock_owner" mapstructure:"stock_owner"`
	MaxBatch            int    `yaml:"max_batch" mapstructure:"max_batch"`
	TTLSecs             int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	ReclaimIntervalSecs int    `yaml:"reclaim_interval_secs" mapstructure:"reclaim_interval_secs"`
}

// UsageConfig selects where per-device usage counters live.
type UsageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// PricingConfig holds per-item prices used for session cost estimates.
type PricingConfig struct {
	DefaultPerItem float64         `yaml:"default_per_item" mapstructure:"default_per_item"`
	PerCheckType   map[int]float64 `yaml:"per_check_type" mapstructure:"per_check_type"`
}

// AuthConfig maps worker tokens to caller identities.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens" mapstructure:"tokens"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	Enabled                 bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs       int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StrandedLeaseThreshold  int    `yaml:"stranded_lease_threshold" mapstructure:"stranded_lease_threshold"`
	StrandedLeaseAgeMins    int    `yaml:"stranded_lease_age_mins" mapstructure:"stranded_lease_age_mins"`
	PendingBacklogThreshold int    `yaml:"pending_backlog_threshold" mapstructure:"pending_backlog_threshold"`
	AlertCooldownMins       int    `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
	WebhookURL              string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ResilienceConfig configures the store circuit breaker.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CHECKPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "checkpool:")
	v.SetDefault("kafka.topic", "checkpool.items.resolved")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("security.signature.enabled", false)
	v.SetDefault("security.signature.max_skew_secs", 300)
	v.SetDefault("security.allowlist.enabled", false)
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.max_requests", 120)
	v.SetDefault("security.rate_limit.window_secs", 60)
	v.SetDefault("security.rate_limit.backend", "memory")
	v.SetDefault("security.rate_limit.sweep_interval_secs", 60)
	v.SetDefault("settings.refresh_secs", 30)
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("lease.stock_owner", "stock")
	v.SetDefault("lease.max_batch", 50)
	v.SetDefault("lease.ttl_secs", 0)
	v.SetDefault("lease.reclaim_interval_secs", 60)
	v.SetDefault("usage.backend", "memory")
	v.SetDefault("pricing.default_per_item", 0.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stranded_lease_threshold", 100)
	v.SetDefault("monitoring.stranded_lease_age_mins", 60)
	v.SetDefault("monitoring.pending_backlog_threshold", 10000)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
}

// Redacted returns a copy of cfg with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	out := c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Redis.Password = mask(c.Redis.Password)
	out.Security.Signature.Secret = mask(c.Security.Signature.Secret)
	if c.Store.DatabaseURL != "" {
		out.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	}
	if len(c.Auth.Tokens) > 0 {
		out.Auth.Tokens = make(map[string]string, len(c.Auth.Tokens))
		i := 0
		for _, caller := range c.Auth.Tokens {
			i++
			out.Auth.Tokens[fmt.Sprintf("redacted-%d", i)] = caller
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
