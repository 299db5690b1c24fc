// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claviger-project/claviger/internal/breaker"
)

// allowScript atomically increments the current window bucket, arms its
// expiry on first increment, and reads the previous bucket. Running it as
// one script means concurrent callers across processes never under- or
// over-count.
var allowScript = redis.NewScript(`
local cur = redis.call("INCR", KEYS[1])
if cur == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local prev = redis.call("GET", KEYS[2])
if prev == false then
  prev = "0"
end
return {cur, prev}
`)

// Redis is the distributed limiter backend. It shares the warm-tier Redis
// client and breaker, counting admissions in two fixed buckets per key and
// weighting the previous bucket by its overlap with the sliding window.
type Redis struct {
	client *redis.Client
	prefix string
	br     *breaker.Breaker
	now    func() time.Time
}

// NewRedis wraps a shared Redis client as the primary limiter backend.
func NewRedis(client *redis.Client, prefix string, br *breaker.Breaker) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		br:     br,
		now:    time.Now,
	}
}

// bucketKey namespaces one window bucket for a key.
func (r *Redis) bucketKey(key string, bucket int64) string {
	return r.prefix + ":rl:" + key + ":" + strconv.FormatInt(bucket, 10)
}

// allow runs the counting script and applies the sliding-window weighting.
func (r *Redis) allow(ctx context.Context, key string, ceiling int, window time.Duration) (Decision, error) {
	if ceiling <= 0 {
		return Decision{Allowed: true, Limit: ceiling, Remaining: ceiling}, nil
	}

	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = time.Minute.Milliseconds()
	}

	now := r.now()
	nowMillis := now.UnixMilli()
	bucket := nowMillis / windowMillis
	elapsed := nowMillis % windowMillis

	curKey := r.bucketKey(key, bucket)
	prevKey := r.bucketKey(key, bucket-1)

	cur, prev, err := r.run(ctx, curKey, prevKey, 2*windowMillis)
	if err != nil {
		return Decision{}, err
	}

	// The previous bucket contributes the share of its count that still
	// overlaps the sliding window.
	overlap := 1 - float64(elapsed)/float64(windowMillis)
	weighted := int64(float64(prev)*overlap) + cur

	resetAt := time.UnixMilli((bucket + 1) * windowMillis)
	remaining := int64(ceiling) - weighted
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   weighted <= int64(ceiling),
		Limit:     ceiling,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
	}
	return d, nil
}

// run executes the script under the shared breaker.
func (r *Redis) run(ctx context.Context, curKey, prevKey string, expiryMillis int64) (cur, prev int64, err error) {
	type counts struct{ cur, prev int64 }
	out, err := breaker.Do(ctx, r.br, func(ctx context.Context) (counts, error) {
		res, err := allowScript.Run(ctx, r.client, []string{curKey, prevKey}, expiryMillis).Result()
		if err != nil {
			return counts{}, fmt.Errorf("rate limit script: %w", err)
		}
		values, ok := res.([]interface{})
		if !ok || len(values) < 2 {
			return counts{}, errors.New("unexpected rate limit script response")
		}
		c, ok := values[0].(int64)
		if !ok {
			return counts{}, errors.New("invalid rate limit counter response")
		}
		p, err := toInt64(values[1])
		if err != nil {
			return counts{}, err
		}
		return counts{cur: c, prev: p}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return out.cur, out.prev, nil
}

// toInt64 tolerates both integer and bulk-string replies for the previous
// bucket, which GET returns as a string.
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid previous bucket count %q: %w", n, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected previous bucket type %T", v)
	}
}
