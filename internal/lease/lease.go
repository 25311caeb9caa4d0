// Package lease implements the worker-facing fetch/report exchange. Every
// item transition goes through a single conditional store update, so the
// service holds no locks and may run in any number of processes.
package lease

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
	"github.com/HoangAnhDev1805/checkpool/internal/cost"
	"github.com/HoangAnhDev1805/checkpool/internal/events"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
	"github.com/HoangAnhDev1805/checkpool/internal/resultcache"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// ErrInvalid marks requests rejected before touching the store.
var ErrInvalid = eris.New("lease: invalid request")

// StockLevel tells a worker how much of its requested batch was filled.
type StockLevel string

const (
	StockOK    StockLevel = "OK"
	StockLow   StockLevel = "LowStock"
	StockEmpty StockLevel = "OutOfStock"
)

func stockLevel(got, want int) StockLevel {
	switch {
	case got == 0:
		return StockEmpty
	case got < want:
		return StockLow
	default:
		return StockOK
	}
}

const (
	defaultMaxBatch   = 50
	defaultStockOwner = "stock"
	publishTimeout    = 5 * time.Second
)

// Deps are the collaborators of a Service. Cache, Usage and Events may be
// nil; they are replaced by no-op or in-memory implementations.
type Deps struct {
	Store   store.Store
	Cache   resultcache.Cache
	Usage   usage.Recorder
	Events  events.Publisher
	Breaker *resilience.Breaker
	Pricing *cost.Calculator
	Config  config.LeaseConfig
}

// Service runs the lease protocol against a Store.
type Service struct {
	store   store.Store
	cache   resultcache.Cache
	usage   usage.Recorder
	events  events.Publisher
	breaker *resilience.Breaker
	pricing *cost.Calculator
	cfg     config.LeaseConfig

	now func() time.Time
}

// NewService wires a Service from deps.
func NewService(d Deps) *Service {
	cfg := d.Config
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.StockOwner == "" {
		cfg.StockOwner = defaultStockOwner
	}
	s := &Service{
		store:   d.Store,
		cache:   d.Cache,
		usage:   d.Usage,
		events:  d.Events,
		breaker: d.Breaker,
		pricing: d.Pricing,
		cfg:     cfg,
		now:     time.Now,
	}
	if s.cache == nil {
		s.cache = resultcache.NewMemoryCache(7 * 24 * time.Hour)
	}
	if s.usage == nil {
		s.usage = usage.NewMemoryRecorder()
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.breaker == nil {
		s.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "store"})
	}
	if s.pricing == nil {
		s.pricing = cost.NewCalculator(cost.Rates{})
	}
	return s
}

// TTL returns the lease expiry, zero when leases never expire.
func (s *Service) TTL() time.Duration {
	return time.Duration(s.cfg.TTLSecs) * time.Second
}

// Evict returns every pending or leased item of the session to the shared
// pool. Calling it again finds nothing to release and returns 0.
func (s *Service) Evict(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, eris.Wrap(ErrInvalid, "lease: session id is required")
	}
	n, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (int, error) {
		return s.store.ReleaseSession(ctx, sessionID)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "lease: evict session %s", sessionID)
	}
	if n > 0 {
		zap.L().Info("lease: evicted session items",
			zap.String("session_id", sessionID),
			zap.Int("released", n),
		)
	}
	return n, nil
}

// Reclaim returns leased items whose lease has expired to pending.
func (s *Service) Reclaim(ctx context.Context) (int, error) {
	n, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (int, error) {
		return s.store.ReclaimExpired(ctx, s.now())
	})
	if err != nil {
		return 0, eris.Wrap(err, "lease: reclaim expired")
	}
	if n > 0 {
		zap.L().Info("lease: reclaimed expired leases", zap.Int("reclaimed", n))
	}
	return n, nil
}
