package lease

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/events"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
	"github.com/HoangAnhDev1805/checkpool/internal/resultcache"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// ReportRequest carries a worker's terminal result for a leased item.
type ReportRequest struct {
	Caller   string
	Device   string
	ItemID   string
	Outcome  model.Outcome
	Message  string
	Metadata model.ItemMetadata
}

func (r ReportRequest) validate() error {
	if r.Caller == "" {
		return eris.Wrap(ErrInvalid, "lease: caller is required")
	}
	if r.ItemID == "" {
		return eris.Wrap(ErrInvalid, "lease: item id is required")
	}
	if !r.Outcome.Valid() {
		return eris.Wrapf(ErrInvalid, "lease: outcome %d", int(r.Outcome))
	}
	return nil
}

// Report resolves a leased item. Reports against unknown items fail with
// store.ErrNotFound; against items not currently leased to the reporting
// caller and device with store.ErrConflict, leaving the item unchanged.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*model.WorkItem, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	item, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (*model.WorkItem, error) {
		return s.store.ResolveItem(ctx, store.Resolution{
			ItemID:     req.ItemID,
			Holder:     usage.Field(req.Caller, req.Device),
			Status:     req.Outcome.Status(),
			Message:    req.Message,
			Metadata:   req.Metadata,
			ResolvedBy: req.Caller,
			Now:        now,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			zap.L().Debug("lease: report rejected",
				zap.String("caller", req.Caller),
				zap.String("item_id", req.ItemID),
				zap.Error(err),
			)
		}
		return nil, eris.Wrapf(err, "lease: report item %s", req.ItemID)
	}

	if req.Outcome.Cacheable() {
		err := s.cache.Put(ctx, item.Fingerprint, item.CheckType, resultcache.Entry{
			Outcome:  req.Outcome,
			Message:  req.Message,
			Metadata: req.Metadata,
			ItemID:   item.ID,
			CachedAt: now,
		})
		if err != nil {
			zap.L().Warn("lease: result cache write failed",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
		}
	}

	if err := s.usage.Incr(ctx, req.Caller, req.Device, now); err != nil {
		zap.L().Warn("lease: usage increment failed",
			zap.String("caller", req.Caller),
			zap.Error(err),
		)
	}

	s.publishResolved(ctx, item, req)
	return item, nil
}

func (s *Service) publishResolved(ctx context.Context, item *model.WorkItem, req ReportRequest) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.PublishResolved(pctx, events.NewItemResolved(item, req.Caller, req.Device)); err != nil {
		zap.L().Warn("lease: publish item.resolved failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}
