package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var attemptConsumeScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisAttemptLimiter counts failed attempts in Redis so lockouts hold across
// instances and restarts.
type RedisAttemptLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAttemptLimiter(client redis.UniversalClient, prefix string) *RedisAttemptLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "payflow:attempts"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisAttemptLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisAttemptLimiter) key(scope, subject string) (string, bool) {
	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return "", false
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject), true
}

func (r *RedisAttemptLimiter) Consume(ctx context.Context, scope, subject string, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	rawResult, err := attemptConsumeScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	return parseConsumeResult(rawResult, windowMs)
}

func parseConsumeResult(rawResult any, windowMs int64) (int, int, error) {
	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(currentCount), retryAfter, nil
}

func (r *RedisAttemptLimiter) Locked(ctx context.Context, scope, subject string, limit int) (bool, error) {
	if r == nil || r.client == nil || limit <= 0 {
		return false, nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return false, nil
	}

	count, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return count >= limit, nil
}

func (r *RedisAttemptLimiter) Reset(ctx context.Context, scope, subject string) error {
	if r == nil || r.client == nil {
		return nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}
