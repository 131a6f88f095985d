package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter for KEYS[1] and starts its window on
// the first hit. It returns {count, remaining window in ms}.
var fixedWindowScript = redis.NewScript(`
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

// LimitDecision is the outcome of one attempt against a limiter.
type LimitDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// AttemptLimiter bounds how often a subject may attempt an operation.
type AttemptLimiter interface {
	Allow(ctx context.Context, subject string) (LimitDecision, error)
}

// RedisAttemptLimiter is a fixed-window limiter shared by every replica through Redis.
type RedisAttemptLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisAttemptLimiter limits each subject to limit attempts per window under scope.
func NewRedisAttemptLimiter(client redis.UniversalClient, prefix, scope string, limit int, window time.Duration) *RedisAttemptLimiter {
	base := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if base == "" {
		base = "linking"
	}
	return &RedisAttemptLimiter{
		client: client,
		prefix: fmt.Sprintf("%s:rate_limit:%s", base, scope),
		limit:  limit,
		window: window,
	}
}

func (r *RedisAttemptLimiter) Allow(ctx context.Context, subject string) (LimitDecision, error) {
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 || subject == "" {
		return LimitDecision{Allowed: true}, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + subject}, windowMs).Result()
	if err != nil {
		return LimitDecision{}, err
	}
	count, ttlMs, err := parseWindowReply(raw)
	if err != nil {
		return LimitDecision{}, err
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	return LimitDecision{
		Allowed:    count <= int64(r.limit),
		Count:      int(count),
		RetryAfter: time.Duration(retryAfterSeconds(ttlMs)) * time.Second,
	}, nil
}

func parseWindowReply(raw interface{}) (int64, int64, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return count, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	return count, ttl, nil
}

func retryAfterSeconds(ttlMs int64) int {
	seconds := int(math.Ceil(float64(ttlMs) / 1000.0))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
