package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/cost"
	"github.com/HoangAnhDev1805/checkpool/internal/db"
	"github.com/HoangAnhDev1805/checkpool/internal/events"
	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
	"github.com/HoangAnhDev1805/checkpool/internal/resultcache"
	"github.com/HoangAnhDev1805/checkpool/internal/security"
	"github.com/HoangAnhDev1805/checkpool/internal/session"
	"github.com/HoangAnhDev1805/checkpool/internal/settings"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

const defaultSQLiteDSN = "checkpool.db"

// appEnv holds the initialized store, backends and services shared by the
// serve and maintenance commands.
type appEnv struct {
	Store    store.Store
	Redis    *redis.Client // nil unless a backend is configured for redis
	Cache    resultcache.Cache
	Usage    usage.Recorder
	Events   events.Publisher
	Lease    *lease.Service
	Sessions *session.Manager
	Settings *settings.Accessor
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Events != nil {
		if err := e.Events.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for postgres (CHECKPOOL_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// needsRedis reports whether any configured backend lives in redis.
func needsRedis() bool {
	return cfg.Cache.Backend == "redis" ||
		cfg.Usage.Backend == "redis" ||
		cfg.Security.RateLimit.Backend == "redis"
}

func initCache(client *redis.Client) (resultcache.Cache, error) {
	ttl := cfg.Cache.TTL()
	switch cfg.Cache.Backend {
	case "redis":
		return resultcache.NewRedisCache(client, cfg.Redis.KeyPrefix, ttl), nil
	case "memory", "":
		return resultcache.NewMemoryCache(ttl), nil
	default:
		return nil, eris.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

func initUsage(client *redis.Client) (usage.Recorder, error) {
	switch cfg.Usage.Backend {
	case "redis":
		return usage.NewRedisRecorder(client, cfg.Redis.KeyPrefix), nil
	case "memory", "":
		return usage.NewMemoryRecorder(), nil
	default:
		return nil, eris.Errorf("unsupported usage backend: %s", cfg.Usage.Backend)
	}
}

func initEvents() events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Noop{}
	}
	zap.L().Info("publishing resolution events",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
}

// initLimiter returns the rate limiter for the gateway and, for the
// process-local backends, the sweeper that evicts idle keys.
func initLimiter(client *redis.Client) (security.Limiter, interface{ Sweep() int }, error) {
	rl := cfg.Security.RateLimit
	switch rl.Backend {
	case "redis":
		return security.NewRedisLimiter(client, cfg.Redis.KeyPrefix), nil, nil
	case "bucket":
		idle := 2 * time.Duration(rl.WindowSecs) * time.Second
		if idle <= 0 {
			idle = 10 * time.Minute
		}
		l := security.NewBucketLimiter(idle)
		return l, l, nil
	case "memory", "":
		l := security.NewMemoryLimiter()
		return l, l, nil
	default:
		return nil, nil, eris.Errorf("unsupported rate limit backend: %s", rl.Backend)
	}
}

// initEnv opens the store, applies migrations and wires the services.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if needsRedis() {
		client, err := db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Redis = client
	}

	if env.Cache, err = initCache(env.Redis); err != nil {
		env.Close()
		return nil, err
	}
	if env.Usage, err = initUsage(env.Redis); err != nil {
		env.Close()
		return nil, err
	}
	env.Events = initEvents()

	pricing := cost.NewCalculator(cost.RatesFrom(cfg.Pricing))
	env.Lease = lease.NewService(lease.Deps{
		Store:   st,
		Cache:   env.Cache,
		Usage:   env.Usage,
		Events:  env.Events,
		Breaker: resilience.NewBreaker(resilience.BreakerConfigFrom("store", cfg.Resilience)),
		Pricing: pricing,
		Config:  cfg.Lease,
	})
	env.Sessions = session.NewManager(st, env.Lease, pricing, cfg.Lease.StockOwner)
	env.Settings = settings.NewAccessor(st,
		settings.DefaultsFrom(cfg.Security),
		time.Duration(cfg.Settings.RefreshSecs)*time.Second,
	)

	return env, nil
}
