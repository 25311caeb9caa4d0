package usage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// retention keeps day hashes long enough for monthly aggregation.
const retention = 35 * 24 * time.Hour

// RedisRecorder stores one hash per UTC day, shared by all server processes.
type RedisRecorder struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRecorder returns a recorder writing under prefix.
func NewRedisRecorder(client redis.Cmdable, prefix string) *RedisRecorder {
	return &RedisRecorder{client: client, prefix: prefix}
}

func (r *RedisRecorder) key(t time.Time) string {
	return r.prefix + "usage:" + dayKey(t)
}

func (r *RedisRecorder) Incr(ctx context.Context, caller, device string, at time.Time) error {
	key := r.key(at)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, Field(caller, device), 1)
	pipe.Expire(ctx, key, retention)
	_, err := pipe.Exec(ctx)
	return eris.Wrap(err, "usage: redis incr")
}

func (r *RedisRecorder) Day(ctx context.Context, day time.Time) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key(day)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "usage: redis read day")
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "usage: parse counter %s", field)
		}
		out[field] = n
	}
	return out, nil
}
