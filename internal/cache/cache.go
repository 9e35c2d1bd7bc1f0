// Package cache is a process-local TTL key/value store with an optional LRU size bound.
//
// Expired entries are treated as misses on read and removed lazily; Run purges
// the rest on a fixed interval. When MaxEntries > 0, inserting a new key at
// capacity evicts the least recently used entry.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultTTL is used when neither the caller nor Options supply a TTL.
const DefaultTTL = 5 * time.Minute

// Options configures a Cache.
type Options struct {
	DefaultTTL    time.Duration
	MaxEntries    int // 0 = unbounded
	SweepInterval time.Duration
	Now           func() time.Time // injectable clock for tests
}

type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used
	opts  Options
}

// New creates a cache. Zero-valued options fall back to package defaults.
func New[V any](opts Options) *Cache[V] {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		opts:  opts,
	}
}

// Set stores value under key. ttl <= 0 uses the default TTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		c.lru.MoveToFront(el)
		return
	}

	if c.opts.MaxEntries > 0 {
		for c.lru.Len() >= c.opts.MaxEntries {
			c.removeElement(c.lru.Back())
		}
	}

	el := c.lru.PushFront(&entry[V]{key: key, value: value, createdAt: now, expiresAt: now.Add(ttl)})
	c.items[key] = el
}

// Add stores value only when key is absent or expired and reports whether it did.
// The check and the insert are atomic, which makes Add usable for deduplication.
func (c *Cache[V]) Add(key string, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		if now.Before(el.Value.(*entry[V]).expiresAt) {
			c.lru.MoveToFront(el)
			return false
		}
		c.removeElement(el)
	}
	if c.opts.MaxEntries > 0 {
		for c.lru.Len() >= c.opts.MaxEntries {
			c.removeElement(c.lru.Back())
		}
	}
	c.items[key] = c.lru.PushFront(&entry[V]{key: key, value: value, createdAt: now, expiresAt: now.Add(ttl)})
	return true
}

// Get returns the value for key. An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !now.Before(e.expiresAt) {
		c.removeElement(el)
		return zero, false
	}
	c.lru.MoveToFront(el)
	return e.value, true
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len reports the number of stored entries, including expired-but-unswept ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep purges all expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry[V]).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Run sweeps on the configured interval until ctx is cancelled.
func (c *Cache[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache[V]) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	c.lru.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
