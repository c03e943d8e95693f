package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache memoizes values such as query embeddings, bounded by entry count.
// Entries also expire after the TTL given to Set; a TTL <= 0 never expires.
// It is safe for concurrent use.
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	now      func() time.Time
}

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewLRUCache returns a cache holding at most capacity entries (minimum 1).
func NewLRUCache[V any](capacity int) *LRUCache[V] {
	return &LRUCache[V]{
		capacity: max(capacity, 1),
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *LRUCache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*lruEntry[V])
	if c.expired(e) {
		c.drop(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *LRUCache[V]) Set(ctx context.Context, key string, value V, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry[V])
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.drop(c.order.Back())
	}
	return nil
}

// Len counts entries, including expired ones not yet touched.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache[V]) expired(e *lruEntry[V]) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *LRUCache[V]) drop(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*lruEntry[V]).key)
}
