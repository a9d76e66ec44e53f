package cache

import (
	"container/list"
	"sync"
	"time"
)

// ExpiringCache is a thread-safe cache whose entries carry their own
// expiry instant, with LRU eviction once MaxSize is reached. It is used
// for values that come with an authoritative expiry, such as temporary
// credentials, where a single default TTL would be wrong.
type ExpiringCache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	eviction *list.List // front = most recently used
	maxSize  int
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Config configures an ExpiringCache.
type Config struct {
	// MaxSize is the maximum number of items in the cache.
	MaxSize int
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 10000}
}

// New creates an empty cache.
func New[K comparable, V any](cfg Config) *ExpiringCache[K, V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &ExpiringCache[K, V]{
		items:    make(map[K]*list.Element),
		eviction: list.New(),
		maxSize:  cfg.MaxSize,
		now:      cfg.Clock,
	}
}

// Get returns the value for key if present and not yet expired.
func (c *ExpiringCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[K, V])
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return zero, false
	}

	c.eviction.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set stores value under key until expiresAt. An expiry that is not in the
// future is ignored and any existing entry for key is dropped.
func (c *ExpiringCache[K, V]) Set(key K, value V, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.now().Before(expiresAt) {
		if elem, ok := c.items[key]; ok {
			c.removeLocked(elem)
		}
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.eviction.MoveToFront(elem)
		return
	}

	for c.eviction.Len() >= c.maxSize {
		c.evictLocked()
	}

	elem := c.eviction.PushFront(&cacheEntry[K, V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[key] = elem
}

// Delete removes key from the cache.
func (c *ExpiringCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of items in the cache, including expired entries
// that have not been purged yet.
func (c *ExpiringCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// PurgeExpired removes all expired entries and returns how many were removed.
func (c *ExpiringCache[K, V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0

	var next *list.Element
	for e := c.eviction.Front(); e != nil; e = next {
		next = e.Next()
		if !now.Before(e.Value.(*cacheEntry[K, V]).expiresAt) {
			c.removeLocked(e)
			purged++
		}
	}
	return purged
}

// Stats holds cache statistics.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns a snapshot of the cache counters.
func (c *ExpiringCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *ExpiringCache[K, V]) evictLocked() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
	c.evictions++
}

func (c *ExpiringCache[K, V]) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*cacheEntry[K, V]).key)
	c.eviction.Remove(elem)
}
