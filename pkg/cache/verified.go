package cache

import "time"

// VerifiedNZBMeta records where a verified NZB body came from, for
// diagnostics and for the orchestrator's "⚡ Instant" display logic.
type VerifiedNZBMeta struct {
	Indexer   string    `json:"indexer"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// VerifiedNZBCache holds raw NZB bytes keyed by download URL, so a triage
// pass never re-downloads an NZB it already confirmed playable.
type VerifiedNZBCache struct {
	fc *fifoCache
}

// NewVerifiedNZBCache builds the Verified-NZB Cache with the configured
// TTL and byte budget (default per §4.9: 300 MiB, 24h, no entry-count cap).
func NewVerifiedNZBCache(ttl time.Duration, maxSizeMB int) *VerifiedNZBCache {
	return &VerifiedNZBCache{fc: newFIFOCache(ttl, maxSizeMB*1024*1024, 0)}
}

// Get returns the cached NZB body and its metadata for downloadURL, if
// present and unexpired.
func (c *VerifiedNZBCache) Get(downloadURL string) (body []byte, meta VerifiedNZBMeta, ok bool) {
	value, rawMeta, found := c.fc.Get(downloadURL)
	if !found {
		return nil, VerifiedNZBMeta{}, false
	}
	m, _ := rawMeta.(VerifiedNZBMeta)
	return value, m, true
}

// Put stores body under downloadURL. An entry whose body alone exceeds the
// cache's cap is rejected.
func (c *VerifiedNZBCache) Put(downloadURL string, body []byte, meta VerifiedNZBMeta) bool {
	return c.fc.Put(downloadURL, body, meta, len(body))
}

// Flush discards every cached verified NZB.
func (c *VerifiedNZBCache) Flush() { c.fc.Flush() }

// Len reports the current entry count.
func (c *VerifiedNZBCache) Len() int { return c.fc.Len() }
