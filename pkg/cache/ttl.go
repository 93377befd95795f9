package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// TTLCache is a bounded in-process cache. The least recently used entry is
// evicted once size is reached, and entries older than ttl are treated as
// misses and dropped on access.
//
// Values are stored as JSON so Get has the same decode-into-dest contract
// as RedisCache.
type TTLCache struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	order *list.List // front = most recently used
	items map[string]*list.Element
	now   func() time.Time
}

type ttlEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewTTLCache creates a cache holding at most size entries for ttl each.
func NewTTLCache(size int, ttl time.Duration) *TTLCache {
	if size <= 0 {
		size = 1
	}
	return &TTLCache{
		size:  size,
		ttl:   ttl,
		order: list.New(),
		items: make(map[string]*list.Element, size),
		now:   time.Now,
	}
}

// Get decodes the cached value for key into dest.
func (c *TTLCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e := el.Value.(*ttlEntry)
	if !c.now().Before(e.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		c.mu.Unlock()
		return false, nil
	}
	c.order.MoveToFront(el)
	raw := e.value
	c.mu.Unlock()

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *TTLCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*ttlEntry)
		e.value, e.expires = raw, expires
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&ttlEntry{key: key, value: raw, expires: expires})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*ttlEntry).key)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
