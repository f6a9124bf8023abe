// Package ratelimit throttles the command lines a single connection may
// send. Two implementations share one interface: a Redis-backed fixed window
// using INCR + EXPIRE, for deployments that already run Redis, and an
// in-process token bucket for everything else.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix, e.g. "rl:cmd:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// CommandRule builds the per-connection command rule.
func CommandRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:cmd:", Limit: limit, Window: window}
}

// Limiter decides whether identifier may perform one more action under rule.
// Implementations fail open: when they return an error, allowed is true.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (allowed bool, err error)
	// Forget drops any state held for identifier.
	Forget(identifier string)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
	rule   Rule
	logger *zap.Logger
}

// NewRedisLimiter creates a RedisLimiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, rule Rule, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule, logger: logger.Named("ratelimit")}
}

// Allow increments the identifier's counter in Redis and sets the expiry on
// first access. On Redis errors it fails open so that a Redis outage does not
// block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			l.logger.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// A key without a TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}

// remaining returns the number of requests the identifier has left in the
// current window. On Redis errors it returns the full limit.
func (l *RedisLimiter) remaining(ctx context.Context, identifier string) (int, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return l.rule.Limit, nil
	}
	if err != nil {
		return l.rule.Limit, err
	}

	remaining := l.rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Forget deletes the identifier's counter.
func (l *RedisLimiter) Forget(identifier string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.rule.Key+identifier).Err(); err != nil {
		l.logger.Debug("redis DEL failed", zap.String("identifier", identifier), zap.Error(err))
	}
}
