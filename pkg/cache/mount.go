package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MountStatus is the Mount Handle Cache's per-key state (§4.9).
type MountStatus string

const (
	MountPending MountStatus = "pending"
	MountReady   MountStatus = "ready"
	MountFailed  MountStatus = "failed"
)

// mountEntry is the cache's resting state for a key once its build has
// settled; entries in the pending state are not stored here at all — they
// exist only as an in-flight singleflight call.
type mountEntry struct {
	status    MountStatus
	handle    interface{}
	err       error
	expiresAt time.Time
}

// BuildResult is what a mount-handle builder reports back to the cache.
// Deterministic is only consulted when Err is non-nil: a deterministic
// failure (e.g. the mount service reports the NZB itself is unplayable) is
// pinned as failed for the TTL; a non-deterministic one (e.g. a transient
// network error) is not cached at all, so the next caller retries.
type BuildResult struct {
	Handle        interface{}
	Err           error
	Deterministic bool
}

// MountHandleCache implements the Mount Handle Cache status machine:
// concurrent requests for the same key observe a single in-flight build via
// singleflight and then share its outcome exactly once.
type MountHandleCache struct {
	mu      sync.Mutex
	entries map[string]*mountEntry
	group   singleflight.Group
	ttl     time.Duration
}

// NewMountHandleCache builds the Mount Handle Cache with the given
// ready/failed TTL.
func NewMountHandleCache(ttl time.Duration) *MountHandleCache {
	return &MountHandleCache{entries: make(map[string]*mountEntry), ttl: ttl}
}

// GetOrBuild returns the cached handle for key, invoking build at most once
// across any set of concurrently-racing callers. A settled "ready" or
// "failed" entry within its TTL is returned without invoking build again.
func (c *MountHandleCache) GetOrBuild(key string, build func() BuildResult) (interface{}, error) {
	if handle, err, settled := c.lookup(key); settled {
		return handle, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A build that settled after the lookup above, but before this call
		// joined the group, has already stored its outcome; reuse it.
		if handle, err, settled := c.lookup(key); settled {
			return handle, err
		}
		result := build()
		c.settle(key, result)
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Handle, nil
	})
	return v, err
}

// lookup returns a previously-settled, unexpired entry for key.
func (c *MountHandleCache) lookup(key string) (handle interface{}, err error, settled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, nil, false
	}
	return e.handle, e.err, true
}

// settle records a build's outcome per the status machine: success becomes
// "ready"; a deterministic failure is pinned "failed" for the TTL; a
// non-deterministic failure leaves no cache entry so the next caller
// retries the build from scratch.
func (c *MountHandleCache) settle(key string, result BuildResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Err == nil {
		c.entries[key] = &mountEntry{status: MountReady, handle: result.Handle, expiresAt: time.Now().Add(c.ttl)}
		return
	}
	if result.Deterministic {
		c.entries[key] = &mountEntry{status: MountFailed, err: result.Err, expiresAt: time.Now().Add(c.ttl)}
		return
	}
	delete(c.entries, key)
}

// Peek returns a settled, unexpired "ready" entry's handle without
// triggering a build, used by the orchestrator to detect a release that
// already has a completed mount (the "⚡ Instant" tag, §4.11 step 8).
func (c *MountHandleCache) Peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.status != MountReady || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.handle, true
}

// Flush discards every settled entry. In-flight singleflight calls are
// unaffected and will settle normally.
func (c *MountHandleCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*mountEntry)
}

// Len reports the current settled-entry count.
func (c *MountHandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
