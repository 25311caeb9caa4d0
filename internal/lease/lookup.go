package lease

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
)

// maxLookup bounds the fingerprints accepted by one lookup.
const maxLookup = 500

// Where a lookup hit came from.
const (
	FoundInStore = "store"
	FoundInCache = "cache"
)

// LookupRequest names content either raw or by fingerprint.
type LookupRequest struct {
	CheckType    int
	Fingerprints []string
	Contents     []string
}

// LookupHit is a previously resolved result for one fingerprint.
type LookupHit struct {
	Fingerprint string             `json:"fingerprint"`
	Source      string             `json:"source"`
	ItemID      string             `json:"item_id,omitempty"`
	Status      model.ItemStatus   `json:"status"`
	Message     string             `json:"message,omitempty"`
	Metadata    model.ItemMetadata `json:"metadata"`
}

// Lookup reports which of the given fingerprints already have a resolved
// result, either as a resolved item in the store or as a cached outcome.
// Fingerprints with no result are absent from the returned map.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (map[string]LookupHit, error) {
	fps := make([]string, 0, len(req.Fingerprints)+len(req.Contents))
	seen := make(map[string]bool)
	add := func(fp string) {
		if fp != "" && !seen[fp] {
			seen[fp] = true
			fps = append(fps, fp)
		}
	}
	for _, fp := range req.Fingerprints {
		add(strings.ToLower(strings.TrimSpace(fp)))
	}
	for _, c := range req.Contents {
		if strings.TrimSpace(c) != "" {
			add(model.Fingerprint(c))
		}
	}
	if len(fps) == 0 {
		return nil, eris.Wrap(ErrInvalid, "lease: lookup needs fingerprints or contents")
	}
	if len(fps) > maxLookup {
		return nil, eris.Wrapf(ErrInvalid, "lease: lookup of %d fingerprints exceeds %d", len(fps), maxLookup)
	}

	resolved, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) ([]model.WorkItem, error) {
		return s.store.FindResolved(ctx, fps, req.CheckType)
	})
	if err != nil {
		return nil, eris.Wrap(err, "lease: lookup")
	}

	hits := make(map[string]LookupHit, len(resolved))
	for _, it := range resolved {
		// Newest resolution first; keep it.
		if _, ok := hits[it.Fingerprint]; ok {
			continue
		}
		hits[it.Fingerprint] = LookupHit{
			Fingerprint: it.Fingerprint,
			Source:      FoundInStore,
			ItemID:      it.ID,
			Status:      it.Status,
			Message:     it.Message,
			Metadata:    it.Metadata,
		}
	}

	for _, fp := range fps {
		if _, ok := hits[fp]; ok {
			continue
		}
		e, ok, err := s.cache.Get(ctx, fp, req.CheckType)
		if err != nil {
			zap.L().Warn("lease: result cache read failed", zap.Error(err))
			break
		}
		if ok {
			hits[fp] = LookupHit{
				Fingerprint: fp,
				Source:      FoundInCache,
				ItemID:      e.ItemID,
				Status:      e.Status(),
				Message:     e.Message,
				Metadata:    e.Metadata,
			}
		}
	}
	return hits, nil
}
