// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/claviger-project/claviger/internal/metrics"
)

// ErrCapacity is returned when the in-memory limiter tracks its maximum
// number of keys and none can be evicted. Callers treat it as a rejection.
var ErrCapacity = errors.New("rate limiter key capacity exceeded")

// memoryWindow is one key's window: a monotonically increasing count and
// the instant the window elapses. Never shared across keys.
type memoryWindow struct {
	count     int
	windowEnd time.Time
}

// MemoryOptions configures the in-memory limiter.
type MemoryOptions struct {
	// MaxKeys bounds the tracked key count. Zero selects a default.
	MaxKeys int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// defaultMaxKeys bounds memory when the config leaves MaxKeys unset.
const defaultMaxKeys = 100000

// Memory is the in-process fallback limiter. It activates automatically
// when the distributed backend is unreachable, trading cross-process
// consistency for availability.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	maxKeys int
	now     func() time.Time
}

// NewMemory constructs the fallback limiter.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = defaultMaxKeys
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		windows: make(map[string]*memoryWindow),
		maxKeys: opts.MaxKeys,
		now:     opts.Now,
	}
}

// allow admits or rejects one attempt against key's window.
func (m *Memory) allow(_ context.Context, key string, ceiling int, window time.Duration) (Decision, error) {
	if ceiling <= 0 {
		return Decision{Allowed: true, Limit: ceiling, Remaining: ceiling}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && !now.Before(w.windowEnd) {
		delete(m.windows, key)
		w, ok = nil, false
	}
	if !ok {
		if len(m.windows) >= m.maxKeys {
			m.gcLocked(now)
		}
		if len(m.windows) >= m.maxKeys {
			return Decision{Limit: ceiling, RetryAfter: window}, ErrCapacity
		}
		w = &memoryWindow{windowEnd: now.Add(window)}
		m.windows[key] = w
		metrics.UpdateRateLimitTrackedKeys(len(m.windows))
	}

	if w.count < ceiling {
		w.count++
		return Decision{
			Allowed:   true,
			Limit:     ceiling,
			Remaining: ceiling - w.count,
			ResetAt:   w.windowEnd,
		}, nil
	}

	return Decision{
		Limit:      ceiling,
		RetryAfter: w.windowEnd.Sub(now),
		ResetAt:    w.windowEnd,
	}, nil
}

// gcLocked drops every elapsed window. Caller holds the mutex.
func (m *Memory) gcLocked(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.windowEnd) {
			delete(m.windows, key)
		}
	}
	metrics.UpdateRateLimitTrackedKeys(len(m.windows))
}

// Len reports the tracked key count, for tests and diagnostics.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
