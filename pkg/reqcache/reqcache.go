// Package reqcache is a small in-process response cache with LRU eviction,
// TTL expiry and tag-based invalidation: an entry stored under tag T is
// dropped as soon as a mutation declares it affects T.
package reqcache

import (
	"container/list"
	"sync"
	"time"
)

type Cache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	tags    map[string]map[string]struct{} // tag -> keys carrying it
}

type entry[T any] struct {
	key       string
	value     T
	tags      []string
	expiresAt time.Time
}

func New[T any](maxSize int, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		tags:    make(map[string]map[string]struct{}),
	}
}

// Get retrieves a live entry. Expired entries are removed and reported as
// misses.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		return zero, false
	}
	ent := elem.Value.(*entry[T])
	if time.Now().After(ent.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return ent.value, true
}

// Set stores value under key and registers it with the given tags, evicting
// the least recently used entry when the cache is full.
func (c *Cache[T]) Set(key string, value T, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	ent := &entry[T]{key: key, value: value, tags: tags, expiresAt: time.Now().Add(c.ttl)}
	elem := c.lru.PushFront(ent)
	c.items[key] = elem
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	for c.maxSize > 0 && c.lru.Len() > c.maxSize {
		c.removeElement(c.lru.Back())
	}
}

// Invalidate drops every entry registered under any of the given tags and
// returns the number of entries removed.
func (c *Cache[T]) Invalidate(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range c.tags[tag] {
			if elem, exists := c.items[key]; exists {
				c.removeElement(elem)
				removed++
			}
		}
	}
	return removed
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[T]) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry[T])
	c.lru.Remove(elem)
	delete(c.items, ent.key)
	for _, tag := range ent.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, ent.key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
