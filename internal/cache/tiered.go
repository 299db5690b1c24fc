// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// WarmTier is the shared write-through tier behind L1. *Tier2 implements it.
type WarmTier interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, e Entry) error
	Delete(ctx context.Context, key Key) error
	InvalidateTag(ctx context.Context, tag string) (int, error)
}

// ColdTier is the read-only precomputed tier of last resort. *Tier3
// implements it.
type ColdTier interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	InvalidateTag(ctx context.Context, tag string) (int, error)
}

// InvalidationPublisher fans an invalidated tag out to peer processes so
// they drop their own L1 entries. The event bus implements it.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, tag string) error
}

// TierCounters pairs hit and miss counts for one tier.
type TierCounters struct {
	Hits   int64
	Misses int64
}

// TieredStats is a point-in-time snapshot across all tiers.
type TieredStats struct {
	L1Entries     int
	L1Bytes       int64
	L1            TierCounters
	L2            TierCounters
	L3            TierCounters
	Promotions    int64
	Invalidations int64
}

// Invalidation summarizes one tag invalidation per tier.
type Invalidation struct {
	Tag string
	L1  int
	L2  int
	L3  int
}

// Total returns the number of entries removed across all tiers.
func (inv Invalidation) Total() int { return inv.L1 + inv.L2 + inv.L3 }

// TieredCache consults L1, the warm tier and the cold tier in order,
// back-filling upward on every hit so repeated access converges toward L1
// latency. A tier that errors is treated as a miss; the lookup never fails,
// it only degrades.
type TieredCache struct {
	l1   *L1
	warm WarmTier
	cold ColdTier
	pub  InvalidationPublisher

	l1Hits        atomic.Int64
	l1Misses      atomic.Int64
	l2Hits        atomic.Int64
	l2Misses      atomic.Int64
	l3Hits        atomic.Int64
	l3Misses      atomic.Int64
	promotions    atomic.Int64
	invalidations atomic.Int64
}

// NewTiered assembles the cache. warm, cold and pub may be nil; lookups
// skip absent tiers and invalidations skip the fan-out.
func NewTiered(l1 *L1, warm WarmTier, cold ColdTier, pub InvalidationPublisher) *TieredCache {
	if l1 == nil {
		l1 = NewL1(L1Options{})
	}
	return &TieredCache{l1: l1, warm: warm, cold: cold, pub: pub}
}

// Get returns the cached entry for key, if any tier holds a live one. The
// returned entry's TierOrigin names the tier that served this call.
func (tc *TieredCache) Get(ctx context.Context, key Key) (Entry, bool) {
	start := time.Now()
	if e, ok := tc.l1.Get(key); ok {
		tc.l1Hits.Add(1)
		metrics.RecordCacheHit(TierL1, time.Since(start))
		return e, true
	}
	tc.l1Misses.Add(1)
	metrics.RecordCacheMiss(TierL1, time.Since(start))

	if tc.warm != nil {
		warmStart := time.Now()
		e, ok, err := tc.warm.Get(ctx, key)
		if err != nil {
			logging.Debug().
				Err(err).
				Str("key", key.String()).
				Msg("Warm tier lookup failed, treating as miss")
		}
		if ok {
			tc.l2Hits.Add(1)
			metrics.RecordCacheHit(TierL2, time.Since(warmStart))
			tc.promote(ctx, e, TierL2)
			return e, true
		}
		tc.l2Misses.Add(1)
		metrics.RecordCacheMiss(TierL2, time.Since(warmStart))
	}

	if tc.cold != nil {
		coldStart := time.Now()
		e, ok, err := tc.cold.Get(ctx, key)
		if err != nil {
			logging.Debug().
				Err(err).
				Str("key", key.String()).
				Msg("Cold tier lookup failed, treating as miss")
		}
		if ok {
			tc.l3Hits.Add(1)
			metrics.RecordCacheHit(TierL3, time.Since(coldStart))
			tc.promote(ctx, e, TierL3)
			return e, true
		}
		tc.l3Misses.Add(1)
		metrics.RecordCacheMiss(TierL3, time.Since(coldStart))
	}

	return Entry{}, false
}

// promote back-fills the tiers above the serving one. Promoted copies keep
// the remaining lifetime, clamped to the pattern ceiling.
func (tc *TieredCache) promote(ctx context.Context, e Entry, from string) {
	now := time.Now()
	ttl := ClampTTL(e.Key.Pattern(), e.RemainingTTL(now))

	promoted := e
	promoted.InsertedAt = now
	promoted.ExpiresAt = now.Add(ttl)

	tc.l1.Set(e.Key, promoted)
	if from == TierL3 && tc.warm != nil {
		if err := tc.warm.Set(ctx, e.Key, promoted); err != nil {
			logging.Debug().
				Err(err).
				Str("key", e.Key.String()).
				Msg("Warm tier back-fill failed")
		}
	}

	tc.promotions.Add(1)
	metrics.RecordCachePromotion(from)
}

// Set caches the record under the pattern-clamped TTL, tagged with the key's
// own tags plus any extras. Writes go to L1 and the warm tier; the cold tier
// is owned by the view refresher and is never written from here. The stored
// entry is returned.
func (tc *TieredCache) Set(ctx context.Context, key Key, rec Record, ttlHint time.Duration, tags []string) Entry {
	now := time.Now()
	ttl := ClampTTL(key.Pattern(), ttlHint)

	e := Entry{
		Key:        key,
		Record:     rec,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		Tags:       mergeTags(key.Tags(), tags),
	}

	tc.l1.Set(key, e)
	if tc.warm != nil {
		if err := tc.warm.Set(ctx, key, e); err != nil {
			logging.Debug().
				Err(err).
				Str("key", key.String()).
				Msg("Warm tier write failed")
		}
	}
	return e
}

// Delete removes one key from L1 and the warm tier.
func (tc *TieredCache) Delete(ctx context.Context, key Key) {
	tc.l1.Delete(key)
	if tc.warm != nil {
		if err := tc.warm.Delete(ctx, key); err != nil {
			logging.Debug().
				Err(err).
				Str("key", key.String()).
				Msg("Warm tier delete failed")
		}
	}
}

// Invalidate removes every entry carrying the tag from all tiers, then tells
// peer processes to drop theirs. A failing tier does not stop the remaining
// ones; all failures come back joined so the caller can flag degradation.
func (tc *TieredCache) Invalidate(ctx context.Context, tag string) (Invalidation, error) {
	inv := Invalidation{Tag: tag}
	var errs []error

	inv.L1 = tc.l1.InvalidateTag(tag)
	metrics.RecordCacheInvalidation(TierL1, inv.L1)

	if tc.warm != nil {
		n, err := tc.warm.InvalidateTag(ctx, tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("warm tier: %w", err))
		}
		inv.L2 = n
		metrics.RecordCacheInvalidation(TierL2, n)
	}

	if tc.cold != nil {
		n, err := tc.cold.InvalidateTag(ctx, tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("cold tier: %w", err))
		}
		inv.L3 = n
		metrics.RecordCacheInvalidation(TierL3, n)
	}

	if tc.pub != nil {
		if err := tc.pub.PublishInvalidation(ctx, tag); err != nil {
			errs = append(errs, fmt.Errorf("peer fan-out: %w", err))
		}
	}

	tc.invalidations.Add(1)
	logging.Info().
		Str("tag", tag).
		Int("l1", inv.L1).
		Int("l2", inv.L2).
		Int("l3", inv.L3).
		Msg("Cache invalidated by tag")
	return inv, errors.Join(errs...)
}

// DropLocal removes tagged entries from this process's L1 only. The
// invalidation consumer calls it when a peer publishes a tag; running the
// full Invalidate here would bounce the event between processes forever.
func (tc *TieredCache) DropLocal(tag string) int {
	n := tc.l1.InvalidateTag(tag)
	if n > 0 {
		metrics.RecordCacheInvalidation(TierL1, n)
	}
	return n
}

// Stats returns a snapshot of per-tier counters.
func (tc *TieredCache) Stats() TieredStats {
	l1 := tc.l1.Stats()
	return TieredStats{
		L1Entries:     l1.Entries,
		L1Bytes:       l1.Bytes,
		L1:            TierCounters{Hits: tc.l1Hits.Load(), Misses: tc.l1Misses.Load()},
		L2:            TierCounters{Hits: tc.l2Hits.Load(), Misses: tc.l2Misses.Load()},
		L3:            TierCounters{Hits: tc.l3Hits.Load(), Misses: tc.l3Misses.Load()},
		Promotions:    tc.promotions.Load(),
		Invalidations: tc.invalidations.Load(),
	}
}

// mergeTags unions the key's own tags with caller extras, preserving order
// and dropping duplicates and blanks.
func mergeTags(own, extra []string) []string {
	if len(extra) == 0 {
		return own
	}
	seen := make(map[string]struct{}, len(own)+len(extra))
	merged := make([]string, 0, len(own)+len(extra))
	for _, tag := range append(own, extra...) {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}
