// Package settings serves the live security configuration. Values are read
// from the item store's settings table and cached for a refresh interval,
// so toggles made by an operator propagate within that interval.
package settings

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
)

// SecurityKey is the settings row holding the gateway configuration.
const SecurityKey = "security"

// Security is the live gateway configuration.
type Security struct {
	Signature config.SignatureConfig `json:"signature"`
	Allowlist config.AllowlistConfig `json:"allowlist"`
	RateLimit config.RateLimitConfig `json:"rate_limit"`
}

// DefaultsFrom converts the static config section into a Security value.
func DefaultsFrom(cfg config.SecurityConfig) Security {
	return Security{Signature: cfg.Signature, Allowlist: cfg.Allowlist, RateLimit: cfg.RateLimit}
}

// Provider yields the current security configuration.
type Provider interface {
	Security(ctx context.Context) Security
}

// Static is a Provider with a fixed value.
type Static Security

func (s Static) Security(context.Context) Security { return Security(s) }

// Source persists raw settings. store.Store satisfies it.
type Source interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

// Accessor is a Provider backed by a Source with a refresh interval.
type Accessor struct {
	src      Source
	defaults Security
	refresh  time.Duration

	mu       sync.RWMutex
	current  Security
	loadedAt time.Time
	group    singleflight.Group

	now func() time.Time
}

// NewAccessor returns an Accessor that re-reads src at most once per refresh.
func NewAccessor(src Source, defaults Security, refresh time.Duration) *Accessor {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &Accessor{src: src, defaults: defaults, refresh: refresh, current: defaults, now: time.Now}
}

// Security returns the cached value, reloading it once it is older than the
// refresh interval. A failed reload keeps serving the previous value and
// waits a full interval before the next attempt.
func (a *Accessor) Security(ctx context.Context) Security {
	a.mu.RLock()
	cur, fresh := a.current, !a.loadedAt.IsZero() && a.now().Sub(a.loadedAt) < a.refresh
	a.mu.RUnlock()
	if fresh {
		return cur
	}

	v, err, _ := a.group.Do(SecurityKey, func() (any, error) {
		s, err := a.load(ctx)
		if err != nil {
			a.mu.Lock()
			a.loadedAt = a.now()
			a.mu.Unlock()
		}
		return s, err
	})
	if err != nil {
		zap.L().Warn("settings: refresh failed, serving previous value", zap.Error(err))
		return cur
	}
	return v.(Security)
}

// Refresh forces a reload from the source.
func (a *Accessor) Refresh(ctx context.Context) error {
	_, err := a.load(ctx)
	return err
}

func (a *Accessor) load(ctx context.Context) (Security, error) {
	raw, err := a.src.GetSetting(ctx, SecurityKey)
	if err != nil {
		return Security{}, eris.Wrap(err, "settings: load security")
	}
	s, err := Decode(raw, a.defaults)
	if err != nil {
		return Security{}, err
	}

	a.mu.Lock()
	a.current = s
	a.loadedAt = a.now()
	a.mu.Unlock()
	return s, nil
}

// Save persists s and makes it current immediately in this process.
func (a *Accessor) Save(ctx context.Context, s Security) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "settings: encode security")
	}
	if err := a.src.PutSetting(ctx, SecurityKey, raw); err != nil {
		return eris.Wrap(err, "settings: save security")
	}

	a.mu.Lock()
	a.current = s
	a.loadedAt = a.now()
	a.mu.Unlock()
	return nil
}

// Decode overlays the stored JSON onto defaults. Fields absent from raw keep
// their default; a nil raw returns defaults unchanged.
func Decode(raw []byte, defaults Security) (Security, error) {
	s := defaults
	// Unmarshal appends into the existing backing array; keep defaults intact.
	s.Allowlist.Entries = append([]string(nil), defaults.Allowlist.Entries...)
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Security{}, eris.Wrap(err, "settings: decode security")
	}
	return s, nil
}
