// Package cache implements the three process-wide caches (§4.9): the
// Response Cache, the Verified-NZB Cache, and the Mount Handle Cache. The
// first two share a bookkeeping discipline — TTL plus an aggregate byte-size
// budget, evicted strictly in insertion order — implemented once as
// fifoCache and specialized by key/value type. The Mount Handle Cache has
// its own status-machine semantics and is implemented separately in
// mount.go.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one fifoCache record; it lives both in the lookup map and as a
// node in the FIFO list so eviction can walk oldest-first without a scan.
type entry struct {
	key       string
	value     []byte
	meta      interface{}
	size      int
	expiresAt time.Time
}

// fifoCache is a byte-budgeted, TTL-bounded, insertion-ordered cache. It
// backs both the Response Cache and the Verified-NZB Cache (§4.9); they
// differ only in what they store as value/meta and in their limits.
type fifoCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	maxBytes    int
	maxEntries  int // 0 means unbounded
	order       *list.List // of *entry, oldest at Front
	byKey       map[string]*list.Element
	totalBytes  int
}

func newFIFOCache(ttl time.Duration, maxBytes, maxEntries int) *fifoCache {
	return &fifoCache{
		ttl:        ttl,
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		order:      list.New(),
		byKey:      make(map[string]*list.Element),
	}
}

// Get returns the cached value and its metadata if present and unexpired.
func (c *fifoCache) Get(key string) (value []byte, meta interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.byKey[key]
	if !found {
		return nil, nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeElement(el)
		return nil, nil, false
	}
	return e.value, e.meta, true
}

// Put inserts or replaces key, storing value/meta but accounting size
// bytes against the cache's budget. Callers that size an entry by a wider
// serialization than the raw value (the Response Cache accounts for
// {payload, meta} together, per §4.9) pass that wider size explicitly. If
// size alone exceeds the cache's byte cap, the insertion is rejected and
// Put returns false. An existing entry for key is evicted first so a
// replacement never counts twice against the budget.
func (c *fifoCache) Put(key string, value []byte, meta interface{}, size int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes {
		return false
	}

	if el, found := c.byKey[key]; found {
		c.removeElement(el)
	}

	c.evictUntilFits(size)

	e := &entry{key: key, value: value, meta: meta, size: size, expiresAt: time.Now().Add(c.ttl)}
	el := c.order.PushBack(e)
	c.byKey[key] = el
	c.totalBytes += size
	return true
}

// evictUntilFits drops the oldest entries, in insertion order, until
// adding an incoming entry of addSize bytes (or maxEntries+1 entries)
// would no longer exceed the configured caps.
func (c *fifoCache) evictUntilFits(addSize int) {
	for {
		overBytes := c.maxBytes > 0 && c.totalBytes+addSize > c.maxBytes
		overCount := c.maxEntries > 0 && c.order.Len() >= c.maxEntries
		if !overBytes && !overCount {
			return
		}
		front := c.order.Front()
		if front == nil {
			return
		}
		c.removeElement(front)
	}
}

func (c *fifoCache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.byKey, e.key)
	c.totalBytes -= e.size
}

// Flush discards every entry, used on a configuration reload that changes
// result shape or downstream endpoints (§4.9).
func (c *fifoCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.byKey = make(map[string]*list.Element)
	c.totalBytes = 0
}

// Len reports the current entry count, for tests and metrics.
func (c *fifoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
