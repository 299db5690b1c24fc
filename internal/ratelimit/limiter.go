// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// Tier classifies a caller for ceiling selection. Unknown tiers are treated
// as anonymous, the most restrictive.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierInternal   Tier = "internal"
)

// ParseTier maps a raw tier claim to a known Tier. Anything unrecognized,
// including the empty string, degrades to anonymous.
func ParseTier(raw string) Tier {
	switch Tier(raw) {
	case TierFree, TierPro, TierEnterprise, TierInternal:
		return Tier(raw)
	default:
		return TierAnonymous
	}
}

// Decision is the admission verdict for one call.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Limit is the ceiling that applied.
	Limit int

	// Remaining is how many admissions are left in the current window.
	Remaining int

	// RetryAfter is how long a rejected caller should wait. Zero when
	// allowed.
	RetryAfter time.Duration

	// ResetAt is when the current window elapses.
	ResetAt time.Time

	// Fallback reports that the in-memory limiter served this decision
	// because the distributed backend was unavailable.
	Fallback bool
}

// backend counts one admission attempt against a key's window. Both the
// Redis and in-memory implementations satisfy it.
type backend interface {
	allow(ctx context.Context, key string, ceiling int, window time.Duration) (Decision, error)
}

// ErrLimited is a sentinel wrapped by callers that need an error form of a
// rejection; the Limiter itself always returns a Decision.
var ErrLimited = errors.New("rate limit exceeded")

// Err returns the rejection as an error wrapping ErrLimited, nil when the
// call was admitted. For log fields and error chains that expect an error
// rather than a Decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: retry after %s", ErrLimited, d.RetryAfter)
}

// Limiter admits calls against per-tier sliding-window ceilings. The
// distributed backend is optional; when it is absent or failing, the
// in-memory fallback serves every decision so admission control degrades to
// per-process rather than disappearing.
type Limiter struct {
	cfg      *config.RateLimitConfig
	primary  backend
	fallback *Memory

	rejections *rejectionStore
}

// New constructs a Limiter. primary may be nil, in which case the in-memory
// fallback handles everything (single-process deployments).
func New(cfg *config.RateLimitConfig, primary backend) *Limiter {
	fallback := NewMemory(MemoryOptions{MaxKeys: cfg.MaxKeys})
	return &Limiter{
		cfg:        cfg,
		primary:    primary,
		fallback:   fallback,
		rejections: newRejectionStore(cfg.Window, cfg.MaxKeys),
	}
}

// Admit decides whether one call under key and tier may proceed. It never
// returns an error and never blocks beyond the backend's breaker budget: a
// failing backend flips the decision to the in-memory fallback.
func (l *Limiter) Admit(ctx context.Context, key string, tier Tier) Decision {
	ceiling := l.cfg.TierCeiling(string(tier))

	d, err := l.allow(ctx, key, tier, ceiling)
	if err != nil {
		// Backend failure is already logged at the source; here it only
		// selects the fallback path.
		d, _ = l.fallback.allow(ctx, string(tier)+":"+key, ceiling, l.cfg.Window)
		d.Fallback = true
		metrics.RecordRateLimitFallback()
	} else if !d.Fallback {
		metrics.ClearRateLimitFallback()
	}

	metrics.RecordRateLimit(string(tier), d.Allowed)
	if !d.Allowed {
		l.rejections.record(key)
		logging.Debug().
			Str("key", key).
			Str("tier", string(tier)).
			Int("limit", d.Limit).
			Dur("retry_after", d.RetryAfter).
			Msg("Admission rejected")
	}
	return d
}

// allow consults the primary backend when present, otherwise the fallback.
func (l *Limiter) allow(ctx context.Context, key string, tier Tier, ceiling int) (Decision, error) {
	if l.primary == nil {
		d, err := l.fallback.allow(ctx, string(tier)+":"+key, ceiling, l.cfg.Window)
		d.Fallback = true
		return d, err
	}
	return l.primary.allow(ctx, string(tier)+":"+key, ceiling, l.cfg.Window)
}

// RecentRejections reports how many rejections key accumulated inside the
// current window. The abuse layer uses it to decide when rejection churn
// crosses from throttling into abuse.
func (l *Limiter) RecentRejections(key string) int64 {
	return l.rejections.count(key)
}

// AbuseThreshold exposes the configured escalation bound.
func (l *Limiter) AbuseThreshold() int {
	return l.cfg.AbuseThreshold
}

// rejectionStore tracks per-key rejection counts in bucketed sliding
// windows, bounded by maxKeys with expired-window eviction on overflow.
type rejectionStore struct {
	store *SlidingStore
}

func newRejectionStore(window time.Duration, maxKeys int) *rejectionStore {
	return &rejectionStore{store: NewSlidingStore(window, rejectionBuckets, maxKeys)}
}

// rejectionBuckets divides the rejection window; finer granularity buys
// nothing for an abuse threshold check.
const rejectionBuckets = 6

func (r *rejectionStore) record(key string) {
	r.store.Increment(key)
}

func (r *rejectionStore) count(key string) int64 {
	return r.store.Count(key)
}
