// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package cache implements the tiered authorization-result cache.

Three tiers are consulted in order, each populated from the one below on a
hit ("promotion"), so repeated access to the same decision converges toward
process-local latency:

  - Tier 1 (l1.go): bounded in-process store. Hybrid LRU/LFU eviction plus
    hard TTL expiry. Capacity is bounded by entry count and total payload
    bytes, whichever trips first.
  - Tier 2 (tier2.go): shared Redis tier. JSON records under SET PX, plus
    per-tag sets so tag invalidation is SMEMBERS+DEL. Every call runs
    through a circuit breaker with a hard latency budget; an unreachable
    tier is a miss, never a stall.
  - Tier 3 (tier3.go): read-optimized decision views in DuckDB. The request
    path only reads them; rows are recomputed by the background view
    refresher (internal/store).

# Typed Keys

The key space is a closed set of named patterns, one constructor each.
Decisions route through DecisionKey, which picks the pattern from the
resource class:

	key := cache.DecisionKey(subjectID, "project", projectID, "read", policyVersion)
	key.String()  // "resource_permission:9f2a…" (sha256-compacted)
	key.Tags()    // ["subject:…", "resource:…"]

Each pattern carries its own TTLPolicy. ClampTTL resolves a layer-supplied
hint against the pattern ceiling; security-sensitive patterns (signed media
access, rate-limit status) stay under a minute, slow-changing facts
(capability sets, team membership) live for tens of minutes.

# Usage

	tc := cache.NewTiered(cache.NewL1(cache.L1Options{}), warm, cold, bus)

	if entry, ok := tc.Get(ctx, key); ok {
	    // entry.TierOrigin names the tier that served this call
	    return entry, nil
	}
	// miss: run the layer pipeline, then
	tc.Set(ctx, key, record, ttlHint, tags)

Invalidation is tag-based and touches every tier:

	tc.Invalidate(ctx, cache.SubjectTag(subjectID))

Peer processes drop their Tier 1 entries when the invalidation event arrives
on the bus (DropLocal); exact cross-process synchrony is not attempted, the
short Tier 1 ceilings bound any stale window instead.

# Coherence

Writes from the decision path go to Tiers 1 and 2 only. Tier 3 is owned by
the asynchronous refresher, which keeps views eventually consistent with the
grant sources. A write below always back-fills upward on the next hit; an
invalidation always propagates downward through all tiers.

# See Also

  - internal/authz: the only caller of Get/Set on the decision path
  - internal/store: decision view storage and the view refresher
  - internal/breaker: the shared circuit breaker wrapping Tiers 2 and 3
*/
package cache
