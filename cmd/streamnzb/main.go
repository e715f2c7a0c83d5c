package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/nzbstream/nzbstream/pkg/auth"
	"github.com/nzbstream/nzbstream/pkg/cache"
	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/indexer/easynews"
	"github.com/nzbstream/nzbstream/pkg/indexer/newznab"
	"github.com/nzbstream/nzbstream/pkg/indexer/nzbhydra"
	"github.com/nzbstream/nzbstream/pkg/indexer/prowlarr"
	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/metadata/tmdb"
	"github.com/nzbstream/nzbstream/pkg/metadata/tvdb"
	"github.com/nzbstream/nzbstream/pkg/mount"
	"github.com/nzbstream/nzbstream/pkg/nntp"
	"github.com/nzbstream/nzbstream/pkg/orchestrator"
	"github.com/nzbstream/nzbstream/pkg/persistence"
	"github.com/nzbstream/nzbstream/pkg/ranker"
	"github.com/nzbstream/nzbstream/pkg/search"
	"github.com/nzbstream/nzbstream/pkg/triage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.DataDir, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Info("Starting StreamNZB addon", "version", "v0.1.0", "indexer_manager", cfg.IndexerManager)

	usageManager, err := indexer.NewUsageManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize usage manager: %v", err)
	}

	var easynewsClient *easynews.Client
	if cfg.EasynewsEnabled {
		ec, err := easynews.NewClient(cfg.EasynewsUsername, cfg.EasynewsPassword, "Easynews", "", 0, 0, usageManager)
		if err != nil {
			logger.Warn("Easynews client disabled", "err", err)
		} else {
			easynewsClient = ec
		}
	}

	sources := buildIndexerSources(cfg, usageManager)
	if easynewsClient != nil {
		sources = append(sources, easynewsClient)
	}
	if len(sources) == 0 {
		log.Fatalf("Critical: no indexer sources configured (direct endpoints, manager, or Easynews)")
	}
	aggregator := indexer.NewAggregator(sources...)

	var tmdbResolver search.TMDBResolver
	if cfg.TMDBAPIKey != "" {
		tmdbResolver = tmdb.NewClient(cfg.TMDBAPIKey)
	} else {
		logger.Warn("TMDB_API_KEY not set, text-search fallback and metadata-derived titles are disabled")
	}

	var tvdbClient interface {
		ResolveTVDBID(imdbID string) (string, error)
	}
	if cfg.TVDBAPIKey != "" {
		tvdbClient = tvdb.NewClient(cfg.TVDBAPIKey, cfg.DataDir)
	}

	nntpPool := orchestrator.NewNNTPPool(cfg)
	if err := nntpPool.Validate(); err != nil {
		logger.Warn("NNTP pool validation failed, triage will report fetch errors", "host", cfg.NNTPHost, "err", err)
	}
	defer nntpPool.Shutdown()

	if stateMgr, err := persistence.GetManager(cfg.DataDir); err != nil {
		logger.Warn("state manager unavailable, provider byte counters won't persist across restarts", "err", err)
	} else if usageMgr, err := nntp.GetProviderUsageManager(stateMgr); err != nil {
		logger.Warn("provider usage manager unavailable", "err", err)
	} else {
		nntpPool.SetUsageManager(cfg.NNTPHost, usageMgr)
		nntpPool.RestoreTotalBytes(usageMgr.GetUsage(cfg.NNTPHost).TotalBytes)
	}

	rankerInst := ranker.New(cfg)
	triageRunner := triage.New(cfg, nntpPool)
	cacheTier := cache.NewTier(cfg)
	mountClient := mount.NewClient(cfg)
	gate := auth.NewGate(cfg.AddonSharedSecret)

	orch := orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Gate:     gate,
		Indexer:  aggregator,
		TMDB:     tmdbResolver,
		TVDB:     tvdbClient,
		Easynews: easynewsClient,
		Ranker:   rankerInst,
		Triage:   triageRunner,
		Cache:    cacheTier,
		Mount:    mountClient,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Addon listening", "addr", addr)
	logger.Info("Install addon", "url", gate.SignedURL(cfg.AddonBaseURL, "/manifest.json"))

	if err := http.ListenAndServe(addr, orch.Routes()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// buildIndexerSources wires every configured direct Newznab slot plus, when
// selected, the one indexer-manager meta-client (§6 INDEXER_MANAGER).
func buildIndexerSources(cfg *config.Config, um *indexer.UsageManager) []indexer.Indexer {
	var sources []indexer.Indexer

	for _, idxCfg := range cfg.Indexers {
		if !idxCfg.Usable() {
			continue
		}
		sources = append(sources, newznab.NewClient(idxCfg, um))
	}

	switch cfg.IndexerManager {
	case "prowlarr":
		if cfg.IndexerManagerURL == "" {
			break
		}
		// A Prowlarr instance proxies many per-indexer ids; this does not
		// call prowlarr.GetConfiguredIndexers and wires Prowlarr's generic
		// search as indexer id 0.
		client, err := prowlarr.NewClient(cfg.IndexerManagerURL, 0, cfg.IndexerManagerAPIKey, "Prowlarr", um)
		if err != nil {
			logger.Warn("failed to initialize Prowlarr client", "err", err)
			break
		}
		sources = append(sources, client)
	case "nzbhydra":
		if cfg.IndexerManagerURL == "" {
			break
		}
		client, err := nzbhydra.NewClient(cfg.IndexerManagerURL, cfg.IndexerManagerAPIKey, "NZBHydra2", um)
		if err != nil {
			logger.Warn("failed to initialize NZBHydra2 client", "err", err)
			break
		}
		sources = append(sources, client)
	}

	return sources
}
