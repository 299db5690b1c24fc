// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package ratelimit provides sliding-window admission control in front of
// the authorization pipeline.
//
// Every call is admitted per (subject_or_ip, tier) against the tier's
// configured ceiling. The primary backend is Redis, shared with the warm
// cache tier, using an atomic increment-with-expiry script so concurrent
// processes never under- or over-count. When Redis errors or its circuit
// opens, an in-process fallback limiter takes over automatically; the caller
// is never blocked on an unreachable backend.
//
// Rejections are tracked per key in a bucketed sliding window so the abuse
// layer can distinguish an occasional burst from sustained hammering.
package ratelimit
