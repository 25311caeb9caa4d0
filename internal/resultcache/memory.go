package resultcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for single-node and test setups.
// Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache returns an empty cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string, checkType int) (*Entry, bool, error) {
	key := entryKey(fingerprint, checkType)

	c.mu.Lock()
	defer c.mu.Unlock()
	me, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(me.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	e := me.entry
	return &e, true, nil
}

func (c *MemoryCache) Put(_ context.Context, fingerprint string, checkType int, e Entry) error {
	if err := checkCacheable(e); err != nil {
		return err
	}
	now := c.now()
	if e.CachedAt.IsZero() {
		e.CachedAt = now.UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(fingerprint, checkType)] = memoryEntry{entry: e, expiresAt: now.Add(c.ttl)}
	return nil
}

// Len returns the number of stored entries, including ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
