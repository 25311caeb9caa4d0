package lease

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
	"github.com/HoangAnhDev1805/checkpool/internal/resultcache"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// FetchRequest asks for up to Quantity pending items of CheckType.
type FetchRequest struct {
	Caller    string
	Device    string
	Quantity  int
	CheckType int
	// Fallback is raw content to submit and lease when the pool is empty.
	Fallback string
}

// FetchResult is the outcome of a fetch. An empty Items slice with Stock
// set to StockEmpty is a normal answer, not an error.
type FetchResult struct {
	Items []model.WorkItem
	Stock StockLevel
	// Created is set when Items holds the lease on a fallback submission.
	Created bool
	// Handled carries the cached result when fallback content is already
	// known. No item is created in that case.
	Handled *resultcache.Entry
}

func (r FetchRequest) validate(maxBatch int) (FetchRequest, error) {
	if r.Caller == "" {
		return r, eris.Wrap(ErrInvalid, "lease: caller is required")
	}
	if r.Quantity <= 0 {
		return r, eris.Wrapf(ErrInvalid, "lease: quantity %d must be positive", r.Quantity)
	}
	if r.CheckType < 0 {
		return r, eris.Wrapf(ErrInvalid, "lease: check type %d", r.CheckType)
	}
	if r.Quantity > maxBatch {
		r.Quantity = maxBatch
	}
	r.Fallback = strings.TrimSpace(r.Fallback)
	return r, nil
}

// Fetch leases up to req.Quantity pending items. When none match and
// fallback content is supplied, it is created under the stock owner and
// leased to the caller in the same call.
func (s *Service) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	req, err := req.validate(s.cfg.MaxBatch)
	if err != nil {
		return nil, err
	}

	lr := store.LeaseRequest{
		CheckType: req.CheckType,
		Quantity:  req.Quantity,
		Holder:    usage.Field(req.Caller, req.Device),
		Now:       s.now(),
		TTL:       s.TTL(),
	}
	items, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) ([]model.WorkItem, error) {
		return s.store.LeaseItems(ctx, lr)
	})
	if err != nil {
		return nil, eris.Wrap(err, "lease: fetch")
	}
	if len(items) > 0 || req.Fallback == "" {
		res := &FetchResult{Items: items, Stock: stockLevel(len(items), req.Quantity)}
		if res.Stock != StockOK {
			zap.L().Debug("lease: short fetch",
				zap.String("caller", req.Caller),
				zap.Int("check_type", req.CheckType),
				zap.Int("requested", req.Quantity),
				zap.Int("leased", len(items)),
			)
		}
		return res, nil
	}

	return s.fetchFallback(ctx, req, lr)
}

func (s *Service) fetchFallback(ctx context.Context, req FetchRequest, lr store.LeaseRequest) (*FetchResult, error) {
	fp := model.Fingerprint(req.Fallback)
	entry, ok, err := s.cache.Get(ctx, fp, req.CheckType)
	if err != nil {
		zap.L().Warn("lease: result cache read failed", zap.Error(err))
	} else if ok {
		zap.L().Debug("lease: fallback content already handled",
			zap.String("fingerprint", fp),
			zap.Int("check_type", req.CheckType),
		)
		return &FetchResult{Stock: StockEmpty, Handled: entry}, nil
	}

	item, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (*model.WorkItem, error) {
		return s.store.InsertItem(ctx, model.NewItem{
			Content:   req.Fallback,
			OwnerID:   s.cfg.StockOwner,
			CheckType: req.CheckType,
			Source:    model.CheckSourceDirect,
			Price:     s.pricing.PerItem(req.CheckType),
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "lease: create fallback item")
	}

	leased, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (*model.WorkItem, error) {
		return s.store.LeaseItem(ctx, item.ID, lr)
	})
	if errors.Is(err, store.ErrConflict) {
		// Another fetch picked the new item up between insert and lease.
		return &FetchResult{Stock: StockEmpty}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "lease: lease fallback item")
	}

	return &FetchResult{
		Items:   []model.WorkItem{*leased},
		Stock:   stockLevel(1, req.Quantity),
		Created: true,
	}, nil
}
