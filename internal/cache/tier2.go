// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/claviger-project/claviger/internal/breaker"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

const defaultKeyPrefix = "claviger"

// NewRedisClient dials the shared Redis instance backing Tier 2 and the
// distributed rate limiter. The connection is verified with a ping so wiring
// fails at startup, not on the first request.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logging.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis")
	return client, nil
}

// wirePayload is the Tier 2 JSON envelope. ExpiresAt rides inside so a
// promotion can carry the remaining lifetime upward without a second PTTL
// round trip.
type wirePayload struct {
	Record     Record    `json:"record"`
	InsertedAt time.Time `json:"inserted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Tags       []string  `json:"tags,omitempty"`
}

// Tier2 is the warm shared tier. Entries live under SET PX with the clamped
// TTL; every tag additionally owns a Redis set of member key IDs so tag
// invalidation is SMEMBERS followed by one DEL.
//
// Every backend call runs inside the shared circuit breaker, which also
// enforces the per-call latency budget. When Redis is slow or down the tier
// reports a miss and the lookup falls through; it never blocks a request.
type Tier2 struct {
	client *redis.Client
	prefix string
	br     *breaker.Breaker
}

// NewTier2 wraps an established client. prefix namespaces all keys so one
// Redis can serve several deployments.
func NewTier2(client *redis.Client, prefix string, br *breaker.Breaker) *Tier2 {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Tier2{client: client, prefix: prefix, br: br}
}

func (t *Tier2) entryKey(key Key) string { return t.prefix + ":" + key.String() }

func (t *Tier2) memberKey(id string) string { return t.prefix + ":" + id }

func (t *Tier2) tagKey(tag string) string { return t.prefix + ":tag:" + tag }

// Get fetches and decodes the entry for key. A missing key is (_, false, nil);
// backend failures and open-breaker rejections surface in the error and are
// treated as misses by the tiered lookup.
func (t *Tier2) Get(ctx context.Context, key Key) (Entry, bool, error) {
	raw, err := breaker.Do(ctx, t.br, func(ctx context.Context) ([]byte, error) {
		b, err := t.client.Get(ctx, t.entryKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL2, "get")
		if breaker.IsRejected(err) {
			return Entry{}, false, ErrBackendUnavailable
		}
		return Entry{}, false, err
	}
	if raw == nil {
		return Entry{}, false, nil
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		// Corrupt payload. Drop it so the next write starts clean.
		metrics.RecordCacheBackendError(TierL2, "decode")
		logging.Warn().
			Err(err).
			Str("key", key.String()).
			Msg("Dropping undecodable warm-tier entry")
		_ = t.Delete(ctx, key)
		return Entry{}, false, nil
	}

	e := Entry{
		Key:        key,
		Record:     w.Record,
		TierOrigin: TierL2,
		InsertedAt: w.InsertedAt,
		ExpiresAt:  w.ExpiresAt,
		Tags:       w.Tags,
	}
	if e.Expired(time.Now()) {
		// PX removal is due any moment; trust the payload over clock skew.
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set writes the entry under its remaining TTL and indexes it under each of
// its tags. Tag sets expire on the longest pattern ceiling so they always
// outlive their members.
func (t *Tier2) Set(ctx context.Context, key Key, e Entry) error {
	ttl := e.RemainingTTL(time.Now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(wirePayload{
		Record:     e.Record,
		InsertedAt: e.InsertedAt,
		ExpiresAt:  e.ExpiresAt,
		Tags:       e.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	err = t.br.Execute(ctx, func(ctx context.Context) error {
		pipe := t.client.Pipeline()
		pipe.Set(ctx, t.entryKey(key), payload, ttl)
		for _, tag := range e.Tags {
			tk := t.tagKey(tag)
			pipe.SAdd(ctx, tk, key.String())
			pipe.PExpire(ctx, tk, maxCeiling)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL2, "set")
		if breaker.IsRejected(err) {
			return ErrBackendUnavailable
		}
	}
	return err
}

// Delete removes the entry for key. The key stays a member of its tag sets
// until they expire; invalidation tolerates already-gone members.
func (t *Tier2) Delete(ctx context.Context, key Key) error {
	err := t.br.Execute(ctx, func(ctx context.Context) error {
		return t.client.Del(ctx, t.entryKey(key)).Err()
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL2, "delete")
		if breaker.IsRejected(err) {
			return ErrBackendUnavailable
		}
	}
	return err
}

// InvalidateTag removes every member of the tag's set plus the set itself
// and returns how many entries were actually deleted.
func (t *Tier2) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tk := t.tagKey(tag)

	members, err := breaker.Do(ctx, t.br, func(ctx context.Context) ([]string, error) {
		return t.client.SMembers(ctx, tk).Result()
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL2, "invalidate")
		if breaker.IsRejected(err) {
			return 0, ErrBackendUnavailable
		}
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, t.memberKey(m))
	}
	keys = append(keys, tk)

	deleted, err := breaker.Do(ctx, t.br, func(ctx context.Context) (int64, error) {
		return t.client.Del(ctx, keys...).Result()
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL2, "invalidate")
		if breaker.IsRejected(err) {
			return 0, ErrBackendUnavailable
		}
		return 0, err
	}

	// DEL's count includes the tag set itself when it still existed.
	n := int(deleted) - 1
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Ping verifies the backend is reachable within the breaker budget. Used by
// readiness checks.
func (t *Tier2) Ping(ctx context.Context) error {
	err := t.br.Execute(ctx, func(ctx context.Context) error {
		return t.client.Ping(ctx).Err()
	})
	if err != nil && breaker.IsRejected(err) {
		return ErrBackendUnavailable
	}
	return err
}
