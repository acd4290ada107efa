package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmds is the subset of *redis.Client the limiter needs.
type redisCmds interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis keeps failure counters and lockouts as expiring keys.
// The failure counter lives for one window from its first increment.
type Redis struct {
	rdb    redisCmds
	prefix string
	policy Policy
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redisCmds, prefix string, p Policy) *Redis {
	if prefix == "" {
		prefix = "bo:login"
	}
	return &Redis{rdb: rdb, prefix: prefix, policy: p}
}

func (l *Redis) keys(identifier string, ipHash []byte) (fails, block string) {
	suffix := identifier + ":" + hex.EncodeToString(ipHash)
	return l.prefix + ":fails:" + suffix, l.prefix + ":block:" + suffix
}

// Allow reports whether the block key is absent.
func (l *Redis) Allow(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(identifier, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: no key, -1: key without expiry (never written by us).
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success drops both keys.
func (l *Redis) Success(ctx context.Context, identifier string, ipHash []byte) error {
	fails, block := l.keys(identifier, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure increments the counter and sets the block key at the threshold.
func (l *Redis) Failure(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(identifier, ipHash)
	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, fails, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, block, 1, l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	if err := l.rdb.Del(ctx, fails).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
