// Package cache provides an in-process TTL cache that evicts the least
// accessed entry when full and sweeps expired entries on an interval.
package cache

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultTTL             = 5 * time.Minute
	DefaultMaxEntries      = 1000
	DefaultCleanupInterval = time.Minute
)

// EvictReason tells OnEvict why an entry left the cache.
type EvictReason string

const (
	ReasonExpired  EvictReason = "expired"
	ReasonCapacity EvictReason = "capacity"
)

// Options configures a Cache. Zero values fall back to the defaults.
// OnEvict runs with the cache lock held and must not call back into the cache.
type Options[K comparable, V any] struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
	OnEvict         func(key K, value V, reason EvictReason)
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
}

type entry[V any] struct {
	value       V
	expiresAt   time.Time
	accessCount uint64
	lastAccess  time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*entry[V]
	opts    Options[K, V]
	stats   Stats
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
	running sync.Once
}

func New[K comparable, V any](opts Options[K, V]) *Cache[K, V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	return &Cache[K, V]{
		items: make(map[K]*entry[V], opts.MaxEntries),
		opts:  opts,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// Get returns the value for key. Expired entries are removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	now := c.now()
	if !now.Before(e.expiresAt) {
		c.removeLocked(key, e, ReasonExpired)
		c.stats.Misses++
		return zero, false
	}

	e.accessCount++
	e.lastAccess = now
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.opts.TTL)
}

// SetWithTTL stores value under key for ttl. Replacing a live key keeps its access count.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.lastAccess = now
		return
	}

	if len(c.items) >= c.opts.MaxEntries {
		c.cleanupLocked(now)
	}
	if len(c.items) >= c.opts.MaxEntries {
		c.evictLeastAccessedLocked()
	}

	c.items[key] = &entry[V]{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
}

// Delete removes key, reporting whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// Clear drops every entry without invoking OnEvict.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[V], c.opts.MaxEntries)
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// Cleanup removes expired entries and returns how many were removed.
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(c.now())
}

// Start sweeps expired entries every CleanupInterval until ctx is done or
// Close is called. Only the first call starts a sweeper.
func (c *Cache[K, V]) Start(ctx context.Context) {
	c.running.Do(func() {
		go func() {
			ticker := time.NewTicker(c.opts.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stop:
					return
				case <-ticker.C:
					c.Cleanup()
				}
			}
		}()
	})
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) cleanupLocked(now time.Time) int {
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			c.removeLocked(k, e, ReasonExpired)
			removed++
		}
	}
	return removed
}

// evictLeastAccessedLocked drops the entry with the fewest hits; ties go to
// the one accessed longest ago.
func (c *Cache[K, V]) evictLeastAccessedLocked() {
	var (
		victim K
		ve     *entry[V]
	)
	for k, e := range c.items {
		if ve == nil ||
			e.accessCount < ve.accessCount ||
			(e.accessCount == ve.accessCount && e.lastAccess.Before(ve.lastAccess)) {
			victim, ve = k, e
		}
	}
	if ve != nil {
		c.removeLocked(victim, ve, ReasonCapacity)
	}
}

func (c *Cache[K, V]) removeLocked(key K, e *entry[V], reason EvictReason) {
	delete(c.items, key)
	switch reason {
	case ReasonExpired:
		c.stats.Expirations++
	case ReasonCapacity:
		c.stats.Evictions++
	}
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(key, e.value, reason)
	}
}
