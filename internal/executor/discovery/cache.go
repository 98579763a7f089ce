package discovery

import (
	"container/list"
	"sync"
	"time"

	"github.com/kandev/kanrun/internal/executor/models"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheCapacity = 64
)

// CacheEntry holds cached options for an executor.
type CacheEntry struct {
	Options   Options
	CachedAt  time.Time
	ExpiresAt time.Time
}

// IsValid returns true while the entry has not expired.
func (e *CacheEntry) IsValid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

type cacheItem struct {
	key   models.AgentID
	entry *CacheEntry
}

// Cache is a thread-safe TTL cache bounded by capacity with least recently
// used eviction. Expired entries are dropped when read.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List // front is most recently used
	items    map[models.AgentID]*list.Element
	now      func() time.Time
}

// NewCache creates a cache; non-positive values select the defaults.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[models.AgentID]*list.Element),
		now:      time.Now,
	}
}

// Get returns valid cached options and marks them recently used.
func (c *Cache) Get(executor models.AgentID) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[executor]
	if !ok {
		return nil, false
	}
	item := el.Value.(*cacheItem)
	if !item.entry.IsValid(c.now()) {
		c.order.Remove(el)
		delete(c.items, executor)
		return nil, false
	}
	c.order.MoveToFront(el)
	entry := *item.entry
	return &entry, true
}

// Set caches options, evicting the least recently used entry when full.
func (c *Cache) Set(executor models.AgentID, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &CacheEntry{Options: opts, CachedAt: now, ExpiresAt: now.Add(c.ttl)}
	if el, ok := c.items[executor]; ok {
		el.Value.(*cacheItem).entry = entry
		c.order.MoveToFront(el)
		return
	}
	c.items[executor] = c.order.PushFront(&cacheItem{key: executor, entry: entry})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

// Invalidate removes the entry for an executor.
func (c *Cache) Invalidate(executor models.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[executor]; ok {
		c.order.Remove(el)
		delete(c.items, executor)
	}
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[models.AgentID]*list.Element)
}
