// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import "errors"

// ErrBackendUnavailable reports that a remote tier could not serve a call
// because its circuit breaker is open or the backend rejected the attempt.
// Callers treat it as a miss; it exists so health checks can tell a degraded
// tier from an empty one.
var ErrBackendUnavailable = errors.New("cache backend unavailable")
