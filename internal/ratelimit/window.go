// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package ratelimit

import (
	"sync"
	"time"
)

// SlidingCounter counts events inside a moving window by dividing time into
// fixed buckets and summing them. Elapsed buckets are zeroed lazily on the
// next operation, so an idle counter costs nothing.
//
// Complexity: Increment O(1), Count O(buckets), memory O(buckets).
type SlidingCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

// NewSlidingCounter divides window into numBuckets buckets.
func NewSlidingCounter(window time.Duration, numBuckets int) *SlidingCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
	}
}

// Increment adds delta to the current bucket.
func (c *SlidingCounter) Increment(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.buckets[c.current] += delta
}

// Count returns the event count inside the window.
func (c *SlidingCounter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()

	var total int64
	for _, n := range c.buckets {
		total += n
	}
	return total
}

// advance zeroes buckets the window has slid past. Caller holds the mutex.
func (c *SlidingCounter) advance() {
	now := time.Now()
	elapsed := int(now.Sub(c.lastUpdate) / c.bucketSize)
	if elapsed <= 0 {
		return
	}

	if elapsed >= c.numBuckets {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			c.current = (c.current + 1) % c.numBuckets
			c.buckets[c.current] = 0
		}
	}
	c.lastUpdate = now
}

// SlidingStore keys sliding counters, bounded by maxKeys. At capacity an
// inactive counter is evicted first; if every counter is live, an arbitrary
// one goes — admission accuracy bounds memory, not the other way around.
type SlidingStore struct {
	mu         sync.RWMutex
	counters   map[string]*SlidingCounter
	window     time.Duration
	numBuckets int
	maxKeys    int
}

// NewSlidingStore builds a keyed counter store. maxKeys of zero means
// unbounded.
func NewSlidingStore(window time.Duration, numBuckets, maxKeys int) *SlidingStore {
	return &SlidingStore{
		counters:   make(map[string]*SlidingCounter),
		window:     window,
		numBuckets: numBuckets,
		maxKeys:    maxKeys,
	}
}

// Increment adds one event to key's counter, creating it if absent.
func (s *SlidingStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictLocked()
		}
		counter = NewSlidingCounter(s.window, s.numBuckets)
		s.counters[key] = counter
	}
	counter.Increment(1)
}

// Count returns key's event count inside its window.
func (s *SlidingStore) Count(key string) int64 {
	s.mu.RLock()
	counter, ok := s.counters[key]
	s.mu.RUnlock()

	if !ok {
		return 0
	}
	return counter.Count()
}

// Len reports the tracked key count.
func (s *SlidingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

// evictLocked frees one slot, preferring a counter whose window has gone
// quiet. Caller holds the mutex.
func (s *SlidingStore) evictLocked() {
	for key, counter := range s.counters {
		if counter.Count() == 0 {
			delete(s.counters, key)
			return
		}
	}
	for key := range s.counters {
		delete(s.counters, key)
		return
	}
}

// UniqueTracker counts distinct values per key inside a sliding window. The
// abuse layer uses it to spot one subject collecting denials across many
// different resources, which an aggregate counter cannot see.
type UniqueTracker struct {
	mu         sync.Mutex
	buckets    []map[string]map[string]struct{}
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

// NewUniqueTracker divides window into numBuckets value-set buckets.
func NewUniqueTracker(window time.Duration, numBuckets int) *UniqueTracker {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	buckets := make([]map[string]map[string]struct{}, numBuckets)
	for i := range buckets {
		buckets[i] = make(map[string]map[string]struct{})
	}
	return &UniqueTracker{
		buckets:    buckets,
		bucketSize: window / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
	}
}

// Add records value under key in the current bucket.
func (u *UniqueTracker) Add(key, value string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.advance()
	set, ok := u.buckets[u.current][key]
	if !ok {
		set = make(map[string]struct{})
		u.buckets[u.current][key] = set
	}
	set[value] = struct{}{}
}

// CountUnique returns the number of distinct values recorded under key
// across the window.
func (u *UniqueTracker) CountUnique(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.advance()

	merged := make(map[string]struct{})
	for _, bucket := range u.buckets {
		for value := range bucket[key] {
			merged[value] = struct{}{}
		}
	}
	return len(merged)
}

// advance drops buckets the window has slid past. Caller holds the mutex.
func (u *UniqueTracker) advance() {
	now := time.Now()
	elapsed := int(now.Sub(u.lastUpdate) / u.bucketSize)
	if elapsed <= 0 {
		return
	}

	if elapsed >= u.numBuckets {
		for i := range u.buckets {
			u.buckets[i] = make(map[string]map[string]struct{})
		}
		u.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			u.current = (u.current + 1) % u.numBuckets
			u.buckets[u.current] = make(map[string]map[string]struct{})
		}
	}
	u.lastUpdate = now
}
