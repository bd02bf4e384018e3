// Package cache is the SDK's in-memory response cache: a bounded store with a
// time-to-live per entry and substring invalidation.
//
// Eviction is by insertion order, not by access: when the store is full the
// entry that was inserted first goes, however often it was read.
package cache

import (
	"container/list"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an entry is served after insertion.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxSize bounds the number of entries.
	DefaultMaxSize = 100
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Cache is safe for concurrent use. Reads and writes of different keys are
// independent; concurrent writes of one key are last-write-wins.
type Cache[V any] struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion
}

// New returns an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	o := options{ttl: DefaultTTL, maxSize: DefaultMaxSize, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		ttl:     o.ttl,
		maxSize: o.maxSize,
		now:     o.now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the value for key when present and not older than the TTL.
// An expired entry is removed as a side effect.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e, c.now()) {
		c.removeElement(el)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. Expired entries are purged first; if the
// store is still full, the oldest insertion is evicted. Overwriting a key
// keeps its position and restarts its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.purgeExpired(now)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.insertedAt = now
		return
	}
	for c.order.Len() >= c.maxSize {
		c.removeElement(c.order.Front())
	}
	c.entries[key] = c.order.PushBack(&entry[V]{key: key, value: value, insertedAt: now})
}

// Invalidate removes every key containing pattern. An empty pattern clears
// the cache.
func (c *Cache[V]) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pattern == "" {
		n := c.order.Len()
		c.entries = make(map[string]*list.Element)
		c.order.Init()
		return n
	}
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if strings.Contains(el.Value.(*entry[V]).key, pattern) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet
// purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys lists stored keys in insertion order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) > c.ttl
}

func (c *Cache[V]) purgeExpired(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[V]), now) {
			c.removeElement(el)
		}
		el = next
	}
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.entries, e.key)
}

// Key builds the cache key for a resource read. Parameters are serialized
// sorted by name, so filters given in any order map to the same entry.
//
//	Key("jobs", url.Values{"page": {"1"}}) == "jobs:page=1"
//	Key("properties", nil)                 == "properties:all"
func Key(resource string, params url.Values) string {
	if len(params) == 0 {
		return resource + ":all"
	}
	return resource + ":" + params.Encode()
}
