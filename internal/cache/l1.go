// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

const (
	defaultL1MaxEntries      = 50000
	defaultL1MaxBytes        = 64 << 20
	defaultL1JanitorInterval = 30 * time.Second

	// evictionSample bounds how many nodes from the cold end of the recency
	// list are examined per eviction. Among the sample, the least frequently
	// used one goes, so a hot key that drifted to the tail survives.
	evictionSample = 8
)

// L1Options bounds the process-local tier. Zero values select the defaults.
type L1Options struct {
	MaxEntries      int
	MaxBytes        int64
	JanitorInterval time.Duration
}

// l1Node is one resident entry plus its recency-list links and access
// frequency. Nodes are owned by the L1 mutex.
type l1Node struct {
	key   string
	entry Entry
	cost  int64
	freq  uint64
	prev  *l1Node
	next  *l1Node
}

// L1 is the in-process hot tier: a bounded map plus a doubly-linked recency
// list with per-node frequency counters. Eviction is hybrid LRU/LFU; expiry
// is a hard TTL enforced lazily on Get and by the janitor sweep.
//
// The mutex is held only around map and list manipulation, never across I/O,
// so Get stays in the low microseconds under contention.
type L1 struct {
	mu         sync.Mutex
	items      map[string]*l1Node
	head       *l1Node // sentinel; head.next is most recent
	tail       *l1Node // sentinel; tail.prev is least recent
	tags       map[string]map[string]struct{}
	bytes      int64
	maxEntries int
	maxBytes   int64

	janitorInterval time.Duration

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// L1Stats is a point-in-time snapshot of the tier.
type L1Stats struct {
	Entries     int
	Bytes       int64
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// NewL1 builds the hot tier. The janitor does not start here; run Serve
// under the supervision tree, or rely on lazy expiry alone.
func NewL1(opts L1Options) *L1 {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultL1MaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultL1MaxBytes
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = defaultL1JanitorInterval
	}

	c := &L1{
		items:           make(map[string]*l1Node),
		head:            &l1Node{},
		tail:            &l1Node{},
		tags:            make(map[string]map[string]struct{}),
		maxEntries:      opts.MaxEntries,
		maxBytes:        opts.MaxBytes,
		janitorInterval: opts.JanitorInterval,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the live entry for key, refreshing its recency and frequency.
// An expired entry is removed on sight and reported as a miss.
func (c *L1) Get(key Key) (Entry, bool) {
	k := key.String()
	expired := false

	c.mu.Lock()
	node, ok := c.items[k]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return Entry{}, false
	}
	if node.entry.Expired(time.Now()) {
		c.removeNode(node)
		c.misses++
		c.expirations++
		expired = true
	}
	if expired {
		entries, bytes := len(c.items), c.bytes
		c.mu.Unlock()
		metrics.RecordCacheEviction(TierL1, "expired")
		metrics.UpdateCacheSize(TierL1, entries, bytes)
		return Entry{}, false
	}
	c.moveToFront(node)
	node.freq++
	c.hits++
	e := node.entry
	c.mu.Unlock()

	e.TierOrigin = TierL1
	return e, true
}

// Contains reports whether key holds a live entry without touching recency
// or frequency state.
func (c *L1) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key.String()]
	return ok && !node.entry.Expired(time.Now())
}

// Set stores the entry, replacing any previous one under the same key, then
// enforces the entry-count and byte bounds. Already-expired entries are
// never stored.
func (c *L1) Set(key Key, e Entry) {
	if e.Expired(time.Now()) {
		return
	}
	k := key.String()
	cost := approxCost(e)
	var evictedReasons []string

	c.mu.Lock()
	if node, ok := c.items[k]; ok {
		c.bytes += cost - node.cost
		c.detachTags(node)
		node.entry = e
		node.cost = cost
		node.freq++
		c.attachTags(node)
		c.moveToFront(node)
	} else {
		node := &l1Node{key: k, entry: e, cost: cost, freq: 1}
		c.items[k] = node
		c.bytes += cost
		c.attachTags(node)
		c.addToFront(node)
	}

	for len(c.items) > c.maxEntries {
		c.evictOne()
		evictedReasons = append(evictedReasons, "capacity")
	}
	for c.bytes > c.maxBytes && len(c.items) > 0 {
		c.evictOne()
		evictedReasons = append(evictedReasons, "bytes")
	}
	entries, bytes := len(c.items), c.bytes
	c.mu.Unlock()

	for _, reason := range evictedReasons {
		metrics.RecordCacheEviction(TierL1, reason)
	}
	metrics.UpdateCacheSize(TierL1, entries, bytes)
}

// Delete removes the entry for key, reporting whether one was present.
func (c *L1) Delete(key Key) bool {
	c.mu.Lock()
	node, ok := c.items[key.String()]
	if ok {
		c.removeNode(node)
	}
	entries, bytes := len(c.items), c.bytes
	c.mu.Unlock()

	if ok {
		metrics.UpdateCacheSize(TierL1, entries, bytes)
	}
	return ok
}

// InvalidateTag removes every entry carrying the tag and returns how many
// were dropped.
func (c *L1) InvalidateTag(tag string) int {
	removed := 0

	c.mu.Lock()
	for k := range c.tags[tag] {
		if node, ok := c.items[k]; ok {
			c.removeNode(node)
			removed++
		}
	}
	// removeNode detached every member, so only the empty set slot remains.
	delete(c.tags, tag)
	entries, bytes := len(c.items), c.bytes
	c.mu.Unlock()

	if removed > 0 {
		metrics.UpdateCacheSize(TierL1, entries, bytes)
	}
	return removed
}

// Sweep removes all expired entries in one pass and returns the count.
func (c *L1) Sweep() int {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for _, node := range c.items {
		if node.entry.Expired(now) {
			c.removeNode(node)
			c.expirations++
			removed++
		}
	}
	entries, bytes := len(c.items), c.bytes
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		metrics.RecordCacheEviction(TierL1, "expired")
	}
	metrics.UpdateCacheSize(TierL1, entries, bytes)
	return removed
}

// Clear drops every entry and returns how many were resident.
func (c *L1) Clear() int {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[string]*l1Node)
	c.tags = make(map[string]map[string]struct{})
	c.head.next = c.tail
	c.tail.prev = c.head
	c.bytes = 0
	c.evictions += int64(n)
	c.mu.Unlock()

	metrics.UpdateCacheSize(TierL1, 0, 0)
	return n
}

// Len returns the number of resident entries, expired ones included until
// the next sweep touches them.
func (c *L1) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the estimated resident payload size.
func (c *L1) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the tier's counters.
func (c *L1) Stats() L1Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return L1Stats{
		Entries:     len(c.items),
		Bytes:       c.bytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Serve runs the janitor sweep until the context ends. It satisfies the
// suture service contract so the tier can sit in the supervision tree.
func (c *L1) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logging.Debug().
					Int("removed", n).
					Int("resident", c.Len()).
					Msg("Cache janitor removed expired entries")
			}
		}
	}
}

// String names the service in supervisor logs.
func (c *L1) String() string { return "cache-l1-janitor" }

// addToFront inserts node right after the head sentinel. Caller holds mu.
func (c *L1) addToFront(node *l1Node) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

// moveToFront relinks an existing node to the most-recent position. Caller
// holds mu.
func (c *L1) moveToFront(node *l1Node) {
	node.prev.next = node.next
	node.next.prev = node.prev
	c.addToFront(node)
}

// removeNode unlinks the node from the list, map and tag index and releases
// its cost. Caller holds mu.
func (c *L1) removeNode(node *l1Node) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev = nil
	node.next = nil
	delete(c.items, node.key)
	c.detachTags(node)
	c.bytes -= node.cost
}

// evictOne removes one entry under pressure. Candidates come from the cold
// end of the recency list; among up to evictionSample of them the least
// frequently used one goes. Caller holds mu.
func (c *L1) evictOne() {
	var victim *l1Node
	node := c.tail.prev
	for i := 0; i < evictionSample && node != c.head; i++ {
		if victim == nil || node.freq < victim.freq {
			victim = node
		}
		node = node.prev
	}
	if victim == nil {
		return
	}
	c.removeNode(victim)
	c.evictions++
}

// attachTags indexes the node under each of its entry's tags. Caller holds mu.
func (c *L1) attachTags(node *l1Node) {
	for _, tag := range node.entry.Tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[node.key] = struct{}{}
	}
}

// detachTags removes the node from each of its tag sets, dropping sets that
// empty out. Caller holds mu.
func (c *L1) detachTags(node *l1Node) {
	for _, tag := range node.entry.Tags {
		set, ok := c.tags[tag]
		if !ok {
			continue
		}
		delete(set, node.key)
		if len(set) == 0 {
			delete(c.tags, tag)
		}
	}
}
