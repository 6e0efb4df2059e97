// ABOUTME: Bounded TTL set of message keys that were already delivered to a gateway
// ABOUTME: Lets message dispatch drop client retries that would resend the same text

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	claimed time.Time
	elem    *list.Element
}

// Cache remembers claimed keys for a fixed TTL. When full, the oldest claim is
// dropped first. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest claim at the front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its expiry loop. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.expireLoop(expiryInterval(ttl))
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
}

func expiryInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > time.Minute {
		return time.Minute
	}
	return ttl
}

// Claim records key and reports true, or reports false when key is still held
// from an earlier claim.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.claimed) < c.ttl {
			return false
		}
		c.removeLocked(e)
	}
	for len(c.entries) >= c.maxSize {
		c.removeLocked(c.order.Front().Value.(*entry))
	}
	e := &entry{key: key, claimed: now}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	return true
}

// Held reports whether key is claimed and not yet expired.
func (c *Cache) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.now().Sub(e.claimed) < c.ttl
}

// Len is the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// expireOnce drops every claim older than the TTL. Claims are ordered, so it stops
// at the first live one.
func (c *Cache) expireOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

func (c *Cache) expireLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.expireOnce()
		case <-c.stop:
			return
		}
	}
}

// Close stops the expiry loop. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
