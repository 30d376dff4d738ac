package cache

import (
	"container/list"
	"sync"

	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
)

// EvictFunc is invoked once per entry removed by capacity pressure.
// The hook runs outside the cache lock; it must not retain the value.
type EvictFunc func(key string, value any)

// Config represents context cache configuration
type Config struct {
	MaxEntries int       `yaml:"max_entries"`
	MaxBytes   int64     `yaml:"max_bytes"`
	OnEvict    EvictFunc `yaml:"-"`
}

// ContextCache is a bounded LRU store mapping file paths to parsed contexts.
// Two bounds apply jointly: entry count and the sum of entry weights. The
// cache preserves insertion order for scanning and access order for eviction.
type ContextCache struct {
	mu           sync.RWMutex
	maxEntries   int
	maxBytes     int64
	currentBytes int64
	items        map[string]*cacheItem
	accessList   *list.List // front = most recently accessed
	insertList   *list.List // front = earliest inserted
	onEvict      EvictFunc

	stats types.CacheStats
}

// cacheItem represents an entry in the cache
type cacheItem struct {
	key        string
	value      any
	weight     int64
	accessElem *list.Element
	insertElem *list.Element
}

// New creates a new bounded context cache
func New(config *Config) *ContextCache {
	if config == nil {
		config = &Config{}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 1024 * 1024
	}

	return &ContextCache{
		maxEntries: config.MaxEntries,
		maxBytes:   config.MaxBytes,
		items:      make(map[string]*cacheItem),
		accessList: list.New(),
		insertList: list.New(),
		onEvict:    config.OnEvict,
		stats: types.CacheStats{
			Capacity: config.MaxBytes,
		},
	}
}

// Get retrieves a value and touches its recency.
func (c *ContextCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return nil, false
	}

	c.accessList.MoveToFront(item.accessElem)
	c.stats.Hits++
	return item.value, true
}

// Peek retrieves a value without touching recency.
func (c *ContextCache) Peek(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}
	return item.value, true
}

// Contains reports key presence without touching recency.
func (c *ContextCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.items[key]
	return exists
}

// Put stores a value under key with an explicit byte weight. A pre-existing
// key has its value and weight replaced and its recency bumped. Entries are
// evicted least-recently-accessed first until both bounds hold. A single
// value heavier than the byte bound is rejected.
func (c *ContextCache) Put(key string, value any, weight int64) error {
	if weight < 0 {
		return errors.NewError(errors.ErrCodeValidationFailed, "negative weight").WithComponent("cache")
	}
	if weight > c.maxBytes {
		return errors.NewError(errors.ErrCodeCapacityExceeded, "value exceeds cache byte bound").
			WithComponent("cache").WithPath(key)
	}

	c.mu.Lock()

	if item, exists := c.items[key]; exists {
		c.currentBytes += weight - item.weight
		item.value = value
		item.weight = weight
		c.accessList.MoveToFront(item.accessElem)
	} else {
		item := &cacheItem{key: key, value: value, weight: weight}
		item.accessElem = c.accessList.PushFront(item)
		item.insertElem = c.insertList.PushBack(item)
		c.items[key] = item
		c.currentBytes += weight
	}

	evicted := c.evictIfNeededLocked()
	c.mu.Unlock()

	c.notifyEvicted(evicted)
	return nil
}

// Remove deletes an entry without invoking the eviction hook.
func (c *ContextCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeItemLocked(item)
	return true
}

// Len returns the current entry count.
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CurrentBytes returns the sum of entry weights.
func (c *ContextCache) CurrentBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentBytes
}

// Clear removes all entries. The eviction hook is not invoked.
func (c *ContextCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.accessList.Init()
	c.insertList.Init()
	c.currentBytes = 0
}

// Keys returns all keys in insertion order.
func (c *ContextCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for e := c.insertList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheItem).key)
	}
	return keys
}

// RangeByInsertion visits entries in insertion order until fn returns false.
func (c *ContextCache) RangeByInsertion(fn func(key string, value any) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for e := c.insertList.Front(); e != nil; e = e.Next() {
		item := e.Value.(*cacheItem)
		if !fn(item.key, item.value) {
			return
		}
	}
}

// RangeByAccess visits entries from least to most recently accessed until fn
// returns false.
func (c *ContextCache) RangeByAccess(fn func(key string, value any) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for e := c.accessList.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*cacheItem)
		if !fn(item.key, item.value) {
			return
		}
	}
}

// Stats returns cache statistics
func (c *ContextCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Size = c.currentBytes
	stats.Capacity = c.maxBytes
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if c.maxBytes > 0 {
		stats.Utilization = float64(c.currentBytes) / float64(c.maxBytes)
	}
	return stats
}

// Helper methods

func (c *ContextCache) evictIfNeededLocked() []*cacheItem {
	var evicted []*cacheItem
	for (c.currentBytes > c.maxBytes || len(c.items) > c.maxEntries) && c.accessList.Len() > 0 {
		elem := c.accessList.Back()
		if elem == nil {
			break
		}
		item := elem.Value.(*cacheItem)
		c.removeItemLocked(item)
		c.stats.Evictions++
		evicted = append(evicted, item)
	}
	return evicted
}

func (c *ContextCache) removeItemLocked(item *cacheItem) {
	c.accessList.Remove(item.accessElem)
	c.insertList.Remove(item.insertElem)
	delete(c.items, item.key)
	c.currentBytes -= item.weight
}

func (c *ContextCache) notifyEvicted(evicted []*cacheItem) {
	if c.onEvict == nil {
		return
	}
	for _, item := range evicted {
		c.onEvict(item.key, item.value)
	}
}
