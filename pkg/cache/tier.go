package cache

import (
	"time"

	"github.com/nzbstream/nzbstream/pkg/config"
)

// Tier bundles the three process-wide caches (§4.9) as a single singleton
// handle, passed explicitly to the orchestrator rather than reached for as
// ambient state (§9 "Global mutable state").
type Tier struct {
	Response *ResponseCache
	Verified *VerifiedNZBCache
	Mount    *MountHandleCache
}

// NewTier builds all three caches from the effective configuration.
func NewTier(cfg *config.Config) *Tier {
	return &Tier{
		Response: NewResponseCache(
			time.Duration(cfg.StreamCacheTTLMinutes)*time.Minute,
			cfg.StreamCacheMaxSizeMB,
			1000,
		),
		Verified: NewVerifiedNZBCache(
			time.Duration(cfg.VerifiedNZBCacheTTLMinutes)*time.Minute,
			cfg.VerifiedNZBCacheMaxSizeMB,
		),
		Mount: NewMountHandleCache(
			time.Duration(cfg.NZBDavCacheTTLMinutes) * time.Minute,
		),
	}
}

// FlushAll discards every entry in every cache. Triggered on a
// configuration reload that changes result shape or downstream endpoints
// (§4.9, §5).
func (t *Tier) FlushAll() {
	t.Response.Flush()
	t.Verified.Flush()
	t.Mount.Flush()
}
