package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisCache stores entries as JSON strings with a per-key expiry.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a cache writing keys under prefix that expire after ttl.
func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string, checkType int) (*Entry, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+entryKey(fingerprint, checkType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "resultcache: redis get")
	}

	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, false, eris.Wrap(err, "resultcache: decode entry")
	}
	return &e, true, nil
}

func (c *RedisCache) Put(ctx context.Context, fingerprint string, checkType int, e Entry) error {
	if err := checkCacheable(e); err != nil {
		return err
	}
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "resultcache: encode entry")
	}
	err = c.client.Set(ctx, c.prefix+entryKey(fingerprint, checkType), payload, c.ttl).Err()
	return eris.Wrap(err, "resultcache: redis set")
}
