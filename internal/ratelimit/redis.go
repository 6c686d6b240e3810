package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed window limiter whose counters live in Redis so that
// several API processes share one budget per client.
type RedisWindow struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
	per    time.Duration
}

// NewRedisWindow builds a limiter storing counters under prefix.
func NewRedisWindow(rdb redis.Cmdable, prefix string, limit int, per time.Duration) *RedisWindow {
	if limit <= 0 {
		limit = 1
	}
	if per <= 0 {
		per = time.Minute
	}
	if prefix == "" {
		prefix = "showcase:ratelimit"
	}
	return &RedisWindow{rdb: rdb, prefix: prefix, limit: limit, per: per}
}

// Allow implements Limiter. The first hit of a window sets its expiry.
func (l *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.prefix + ":" + key
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, redisKey, l.per).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	if int(count) <= l.limit {
		return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
	}

	ttl, err := l.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: ttl: %w", err)
	}
	if ttl < 0 {
		// key lost its expiry; restore it so the client is not locked out
		_ = l.rdb.PExpire(ctx, redisKey, l.per).Err()
		ttl = l.per
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter(ttl)}, nil
}
