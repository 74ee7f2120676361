package bucket

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pixgate/internal/ratelimit/models"
	dErrors "pixgate/pkg/domain-errors"
)

// admitScript implements the fixed-window counter server-side so the
// check-and-increment is atomic across gateway instances.
//
// KEYS[1] = bucket key, ARGV[1] = limit, ARGV[2] = window in milliseconds.
// Returns {count, ttl_ms}; count beyond the limit means rejected.
var admitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// RedisBucketStore is the shared fixed-window store for multi-instance
// deployments. Semantics match InMemoryBucketStore; expiry is delegated to
// Redis key TTLs, so it needs no sweeper.
type RedisBucketStore struct {
	rdb    redis.Scripter
	prefix string
}

// NewRedisBucketStore creates a Redis-backed bucket store.
func NewRedisBucketStore(rdb redis.Scripter) *RedisBucketStore {
	return &RedisBucketStore{
		rdb:    rdb,
		prefix: "pixgate:ratelimit:",
	}
}

// Allow checks whether a request under key is admitted and increments the counter.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	raw, err := admitScript.Run(ctx, s.rdb, []string{s.prefix + key}, limit, window.Milliseconds()).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "redis admission check failed")
	}

	vals, ok := raw.([]any)
	if !ok || len(vals) != 2 {
		return nil, dErrors.New(dErrors.CodeInternal, "unexpected redis script reply")
	}
	count, _ := vals[0].(int64)
	ttlMillis, _ := vals[1].(int64)

	resetAt := time.Now().Add(time.Duration(ttlMillis) * time.Millisecond)
	allowed := count <= int64(limit)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := 0
	if !allowed {
		retryAfter = int(time.Duration(ttlMillis) * time.Millisecond / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return &models.Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
