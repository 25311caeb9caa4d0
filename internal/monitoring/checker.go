// Package monitoring snapshots pool health and posts webhook alerts when
// the store is unreachable or thresholds are breached.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultCooldown      = time.Hour
)

// Checker evaluates a snapshot on a fixed interval and notifies the
// webhook. An alert that keeps firing is repeated at most once per
// cooldown; one that clears and fires again is sent immediately.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	cooldown  time.Duration

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	now      func() time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	cooldown := time.Duration(cfg.AlertCooldownMins) * time.Minute
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		cooldown:  cooldown,
		lastSent:  make(map[AlertType]time.Time),
		now:       time.Now,
	}
}

// Run checks once immediately, then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting pool watchdog",
		zap.Duration("interval", c.interval),
		zap.Duration("cooldown", c.cooldown),
	)

	if ctx.Err() == nil {
		c.Check(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("pool watchdog stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one evaluation and returns how many alerts were delivered.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		zap.L().Error("monitoring: collect snapshot", zap.Error(err))
		return 0
	}
	if !snap.StoreReachable {
		zap.L().Error("monitoring: item store unreachable", zap.String("error", snap.StoreError))
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return 0
	}
	for _, a := range due {
		zap.L().Warn("monitoring: alert raised",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	if err := c.alerter.Notify(ctx, due); err != nil {
		zap.L().Error("monitoring: deliver alerts", zap.Int("alerts", len(due)), zap.Error(err))
		return 0
	}
	c.markSent(due)

	if !c.alerter.Enabled() {
		return 0
	}
	zap.L().Info("monitoring: alerts delivered", zap.Int("alerts", len(due)))
	return len(due)
}

func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = at
	}
}

// due drops alerts still inside their cooldown and forgets types that are
// no longer firing.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	firing := make(map[AlertType]bool, len(alerts))
	var out []Alert
	now := c.now()
	for _, a := range alerts {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}
