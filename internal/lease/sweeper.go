package lease

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReclaimer calls Reclaim every interval until ctx is done. It is a
// no-op when leases never expire. Failures are logged and retried on the
// next tick.
func (s *Service) RunReclaimer(ctx context.Context, interval time.Duration) error {
	if s.TTL() <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Reclaim(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("lease: reclaim sweep failed", zap.Error(err))
			}
		}
	}
}
