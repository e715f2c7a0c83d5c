// Package orchestrator composes every other package into the addon's
// single request handler (§4.11): config, indexer, search, ranker, triage,
// cache, mount, metadata and auth are all passed in explicitly rather than
// reached for as ambient state (§9).
package orchestrator

import (
	"net/http"
	"time"

	"github.com/nzbstream/nzbstream/pkg/auth"
	"github.com/nzbstream/nzbstream/pkg/cache"
	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/indexer/easynews"
	"github.com/nzbstream/nzbstream/pkg/mount"
	"github.com/nzbstream/nzbstream/pkg/nntp"
	"github.com/nzbstream/nzbstream/pkg/ranker"
	"github.com/nzbstream/nzbstream/pkg/search"
	"github.com/nzbstream/nzbstream/pkg/triage"
	"github.com/nzbstream/nzbstream/pkg/web"
)

// streamRequestTimeout bounds how long a single /stream request is allowed
// to take end to end, including indexer fan-out and (when enabled) triage.
const streamRequestTimeout = 30 * time.Second

// Orchestrator holds every collaborator the request handler needs. One
// instance is built at startup and is safe for concurrent use; all mutable
// state lives inside the caches, the NNTP pool, and the indexers'
// circuit breakers.
type Orchestrator struct {
	cfg *config.Config

	gate      *auth.Gate
	indexer   indexer.Indexer
	tmdb      search.TMDBResolver
	tvdb      tvdbResolver
	easynews  *easynews.Client
	ranker    *ranker.Ranker
	triage    *triage.Runner
	cache     *cache.Tier
	mountCli  *mount.Client
}

// tvdbResolver is the subset of the TVDB client the orchestrator needs:
// resolving a TVDB id from an IMDb id for series lookups (§4.11 step 3).
type tvdbResolver interface {
	ResolveTVDBID(imdbID string) (string, error)
}

// Deps bundles every collaborator New needs, so the constructor itself
// stays a plain struct literal copy (no partial/ordered construction).
type Deps struct {
	Config   *config.Config
	Gate     *auth.Gate
	Indexer  indexer.Indexer
	TMDB     search.TMDBResolver
	TVDB     tvdbResolver
	Easynews *easynews.Client
	Ranker   *ranker.Ranker
	Triage   *triage.Runner
	Cache    *cache.Tier
	Mount    *mount.Client
}

// New builds an Orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      d.Config,
		gate:     d.Gate,
		indexer:  d.Indexer,
		tmdb:     d.TMDB,
		tvdb:     d.TVDB,
		easynews: d.Easynews,
		ranker:   d.Ranker,
		triage:   d.Triage,
		cache:    d.Cache,
		mountCli: d.Mount,
	}
}

// NewNNTPPool is a small convenience used by main to build the singleton
// NNTP pool that both the triage Runner and (via Deps.Triage) the
// orchestrator depend on, keeping pool construction in one place.
func NewNNTPPool(cfg *config.Config) *nntp.ClientPool {
	return nntp.NewClientPool(cfg.NNTPHost, cfg.NNTPPort, cfg.NNTPTLS, cfg.NNTPUser, cfg.NNTPPass, cfg.TriageMaxConnections)
}

// Routes builds the addon's HTTP surface (§6), gated by the shared-secret
// token prefix on every route but /health.
func (o *Orchestrator) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", o.handleManifest)
	mux.HandleFunc("/stream/", o.handleStream)
	mux.HandleFunc("/nzb/stream", o.handleNZBStream)
	mux.HandleFunc("/easynews/nzb", o.handleEasynewsNZB)
	mux.HandleFunc("/health", o.handleHealth)
	mux.HandleFunc("/admin/logs", o.handleAdminLogs)
	mux.HandleFunc("/admin/ws", o.handleAdminWS)
	mux.Handle("/admin/", http.StripPrefix("/admin", web.Handler()))
	return o.gate.Wrap(mux)
}
