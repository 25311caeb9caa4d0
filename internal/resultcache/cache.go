// Package resultcache remembers stable-negative outcomes by content
// fingerprint and check type so known items are not processed again.
package resultcache

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

// ErrNotCacheable is returned by Put for outcomes that may change between attempts.
var ErrNotCacheable = eris.New("resultcache: outcome is not cacheable")

// Entry is the cached result for one (fingerprint, check type) pair.
type Entry struct {
	Outcome  model.Outcome      `json:"outcome"`
	Message  string             `json:"message,omitempty"`
	Metadata model.ItemMetadata `json:"metadata"`
	ItemID   string             `json:"item_id,omitempty"`
	CachedAt time.Time          `json:"cached_at"`
}

// Status returns the resolved item status the entry stands for.
func (e Entry) Status() model.ItemStatus {
	return e.Outcome.Status()
}

// Cache is a TTL key-value store of resolved outcomes.
type Cache interface {
	// Get returns the entry and true, or false when absent or expired.
	Get(ctx context.Context, fingerprint string, checkType int) (*Entry, bool, error)
	// Put stores e until the cache's TTL elapses. Non-cacheable outcomes
	// are refused with ErrNotCacheable.
	Put(ctx context.Context, fingerprint string, checkType int, e Entry) error
}

func entryKey(fingerprint string, checkType int) string {
	return "result:" + strconv.Itoa(checkType) + ":" + fingerprint
}

func checkCacheable(e Entry) error {
	if !e.Outcome.Cacheable() {
		return eris.Wrapf(ErrNotCacheable, "resultcache: outcome %s", e.Outcome)
	}
	return nil
}
