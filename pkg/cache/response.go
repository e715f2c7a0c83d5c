package cache

import (
	"encoding/json"
	"time"
)

// ResponseMeta is the bookkeeping stored alongside a cached stream-list
// response. TriageComplete distinguishes a fully-resolved response (safe to
// serve as-is) from a partial one where some candidates are still awaiting
// a final triage decision (§4.11 step 2).
type ResponseMeta struct {
	TriageComplete bool     `json:"triageComplete"`
	PendingURLs    []string `json:"pendingUrls"`
}

// ResponseCache holds one entry per canonical request shape: the assembled
// stream-list JSON plus its triage-completeness bookkeeping.
type ResponseCache struct {
	fc *fifoCache
}

// NewResponseCache builds the Response Cache with the configured TTL and
// byte budget (defaults per §4.9: 1000 entries, 200 MiB, 24h).
func NewResponseCache(ttl time.Duration, maxSizeMB, maxEntries int) *ResponseCache {
	return &ResponseCache{fc: newFIFOCache(ttl, maxSizeMB*1024*1024, maxEntries)}
}

// Get returns the cached payload and its metadata for key, if present and
// unexpired.
func (c *ResponseCache) Get(key string) (payload []byte, meta ResponseMeta, ok bool) {
	value, rawMeta, found := c.fc.Get(key)
	if !found {
		return nil, ResponseMeta{}, false
	}
	m, _ := rawMeta.(ResponseMeta)
	return value, m, true
}

// Put stores payload under key with the given metadata. Size is estimated
// by serializing {payload, meta} and measuring its byte length, per §4.9;
// an entry exceeding the cache's cap is rejected.
func (c *ResponseCache) Put(key string, payload []byte, meta ResponseMeta) bool {
	estimate, err := json.Marshal(struct {
		Payload json.RawMessage `json:"payload"`
		Meta    ResponseMeta    `json:"meta"`
	}{Payload: payload, Meta: meta})
	if err != nil {
		return false
	}
	return c.fc.Put(key, payload, meta, len(estimate))
}

// Flush discards every cached response.
func (c *ResponseCache) Flush() { c.fc.Flush() }

// Len reports the current entry count.
func (c *ResponseCache) Len() int { return c.fc.Len() }
