// Package ratelimit caps chat calls per user with a fixed hourly window
// counted in redis, so limits hold across gateway instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

type Limiter struct {
	redis *redis.Client
	limit int64
}

// New returns a limiter; a nil client or non-positive limit disables it.
func New(rdb *redis.Client, limit int64) *Limiter {
	if rdb == nil || limit <= 0 {
		return nil
	}
	return &Limiter{redis: rdb, limit: limit}
}

// Allow counts one chat call for userID. A nil limiter always allows.
func (l *Limiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	if l == nil {
		return true, 0, time.Time{}, nil
	}
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("chatgate:ratelimit:%s:%s", userID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}
