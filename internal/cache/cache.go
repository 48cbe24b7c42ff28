package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	DefaultTTL      = 300 * time.Second
	DefaultCapacity = 100
)

// ResponseCache keeps upstream completions keyed by the raw message text.
// Entries expire after a fixed TTL; when the cache is full the entry that
// expires first is evicted (ties go to the smallest key).
type ResponseCache struct {
	ttl      time.Duration
	capacity int

	mu    sync.Mutex
	store *gocache.Cache
}

func NewResponseCache(ttl time.Duration, capacity int) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		ttl:      ttl,
		capacity: capacity,
		// no janitor goroutine: expired items are never returned by Get and are
		// purged on demand when the cache fills up
		store: gocache.New(ttl, 0),
	}
}

func (c *ResponseCache) Get(message string) (string, bool) {
	v, ok := c.store.Get(message)
	if !ok {
		return "", false
	}
	resp, ok := v.(string)
	return resp, ok
}

func (c *ResponseCache) Put(message, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store.Get(message); !exists && c.store.ItemCount() >= c.capacity {
		c.store.DeleteExpired()
		for c.store.ItemCount() >= c.capacity {
			c.evictOne()
		}
	}
	c.store.Set(message, response, c.ttl)
}

// evictOne removes the entry closest to expiry. Must be called with mu held.
func (c *ResponseCache) evictOne() {
	var (
		victim string
		soonest int64
		found   bool
	)
	for key, item := range c.store.Items() {
		if !found || item.Expiration < soonest || (item.Expiration == soonest && key < victim) {
			victim, soonest, found = key, item.Expiration, true
		}
	}
	if !found {
		// Items skips expired entries that ItemCount still counts
		c.store.DeleteExpired()
		return
	}
	c.store.Delete(victim)
}

func (c *ResponseCache) Len() int {
	return c.store.ItemCount()
}

func (c *ResponseCache) Clear() {
	c.store.Flush()
}
