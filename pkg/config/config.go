// Package config loads the flat ALL_CAPS settings described in the system's
// configuration contract (§6) via viper, and persists the admin-editable
// filter/sort subset to a JSON file under the data directory the same way
// the original dashboard persisted FilterConfig/SortConfig.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/paths"
	"github.com/nzbstream/nzbstream/pkg/persistence"
)

// maxIndexerSlots is the number of numbered NEWZNAB_* slots the config
// contract exposes (1..20).
const maxIndexerSlots = 20

// IndexerConfig is one ordinal direct-Newznab slot (1..20).
type IndexerConfig struct {
	Slot    int
	Name    string
	URL     string
	APIPath string
	APIKey  string
	Enabled bool
	Paid    bool
}

// Usable reports whether the slot is enabled and has an API key, per §3.
func (i IndexerConfig) Usable() bool {
	return i.Enabled && i.APIKey != ""
}

// DedupeKey is a stable slug derived from the slot's ordinal and name, used
// to break deduplication ties deterministically across reloads.
func (i IndexerConfig) DedupeKey() string {
	return fmt.Sprintf("%02d-%s", i.Slot, strings.ToLower(strings.TrimSpace(i.Name)))
}

// FilterConfig holds user filtering preferences for the ranker pipeline.
// Admin-editable; persisted to state.json, not to the env-derived config.
type FilterConfig struct {
	BlockedQualities []string `json:"blocked_qualities"`
	AllowedQualities []string `json:"allowed_qualities"`
	MinResolution    string   `json:"min_resolution"`
	MaxResolution    string   `json:"max_resolution"`
	BlockCam         bool     `json:"block_cam"`
}

// DefaultFilterConfig returns built-in filter defaults for a fresh install.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		BlockedQualities: []string{"CAM", "TeleSync"},
		BlockCam:         true,
	}
}

// SortConfig holds weights for the ranker's quality scoring boost. These
// supplement (never replace) the closed resolution rank from pkg/release.
type SortConfig struct {
	PreferredGroups    []string `json:"preferred_groups"`
	PreferredLanguages []string `json:"preferred_languages"`
	GrabWeight         float64  `json:"grab_weight"`
}

// DefaultSortConfig returns built-in sort weights.
func DefaultSortConfig() SortConfig {
	return SortConfig{GrabWeight: 0.5}
}

// Config is the fully-resolved, effective configuration for one process
// lifetime (until a reload). Built once at startup from viper-bound env
// vars plus defaults; the admin-editable Filters/Sorting subset is loaded
// from state.json on top.
type Config struct {
	Port              int
	AddonBaseURL      string
	AddonSharedSecret string
	AddonName         string

	IndexerManager               string // none | prowlarr | nzbhydra
	IndexerManagerURL            string
	IndexerManagerAPIKey         string
	IndexerManagerBackoffSeconds int

	Indexers []IndexerConfig

	SortMode                  string // quality_then_size | language_quality_size
	PreferredLanguage         []string
	MaxResultSizeGB           float64
	AllowedResolutions        []string
	ResolutionLimitPerQuality int
	DedupEnabled              bool
	HideBlockedResults        bool

	TriageEnabled             bool
	TriageTimeBudgetMS        int
	TriageMaxCandidates       int
	TriageDownloadConcurrency int
	TriageMaxConnections      int
	TriageStatSampleCount     int
	TriageArchiveSampleCount  int
	NNTPHost                  string
	NNTPPort                  int
	NNTPTLS                   bool
	NNTPUser                  string
	NNTPPass                  string
	NNTPKeepAliveMS           int
	ReusePool                 bool
	PrefetchFirstVerified     bool
	PriorityIndexers          []string
	SerializedIndexers        []string

	StreamCacheTTLMinutes      int
	StreamCacheMaxSizeMB       int
	VerifiedNZBCacheTTLMinutes int
	VerifiedNZBCacheMaxSizeMB  int
	NZBDavCacheTTLMinutes      int

	NZBDavURL            string
	NZBDavAPIKey         string
	NZBDavWebDAVURL      string
	NZBDavWebDAVUser     string
	NZBDavWebDAVPass     string
	NZBDavCategoryMovies string
	NZBDavCategorySeries string

	EasynewsEnabled  bool
	EasynewsUsername string
	EasynewsPassword string

	// TMDBAPIKey/TVDBAPIKey configure the external metadata lookup clients
	// (§4.11 step 3); the config contract (§6) abridges these, but
	// metadata resolution cannot function without them.
	TMDBAPIKey string
	TVDBAPIKey string

	LogLevel string
	DataDir  string

	Filters FilterConfig
	Sorting SortConfig

	// LoadedPath records where the admin-editable subset was persisted from,
	// for diagnostics only.
	LoadedPath string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 7000)
	v.SetDefault("ADDON_BASE_URL", "http://localhost:7000")
	v.SetDefault("ADDON_NAME", "NZBStream")
	v.SetDefault("INDEXER_MANAGER", "none")
	v.SetDefault("INDEXER_MANAGER_BACKOFF_SECONDS", 120)

	v.SetDefault("NZB_SORT_MODE", "quality_then_size")
	v.SetDefault("NZB_MAX_RESULT_SIZE_GB", 60.0)
	v.SetDefault("NZB_RESOLUTION_LIMIT_PER_QUALITY", 0)
	v.SetDefault("NZB_DEDUP_ENABLED", true)
	v.SetDefault("NZB_HIDE_BLOCKED_RESULTS", true)

	v.SetDefault("NZB_TRIAGE_ENABLED", false)
	v.SetDefault("NZB_TRIAGE_TIME_BUDGET_MS", 25000)
	v.SetDefault("NZB_TRIAGE_MAX_CANDIDATES", 25)
	v.SetDefault("NZB_TRIAGE_DOWNLOAD_CONCURRENCY", 8)
	v.SetDefault("NZB_TRIAGE_MAX_CONNECTIONS", 10)
	v.SetDefault("NZB_TRIAGE_STAT_SAMPLE_COUNT", 3)
	v.SetDefault("NZB_TRIAGE_ARCHIVE_SAMPLE_COUNT", 2)
	v.SetDefault("NZB_TRIAGE_NNTP_PORT", 563)
	v.SetDefault("NZB_TRIAGE_NNTP_TLS", true)
	v.SetDefault("NZB_TRIAGE_NNTP_KEEP_ALIVE_MS", 60000)
	v.SetDefault("NZB_TRIAGE_REUSE_POOL", true)
	v.SetDefault("NZB_TRIAGE_PREFETCH_FIRST_VERIFIED", false)

	v.SetDefault("STREAM_CACHE_TTL_MINUTES", 1440)
	v.SetDefault("STREAM_CACHE_MAX_SIZE_MB", 200)
	v.SetDefault("VERIFIED_NZB_CACHE_TTL_MINUTES", 1440)
	v.SetDefault("VERIFIED_NZB_CACHE_MAX_SIZE_MB", 300)
	v.SetDefault("NZBDAV_CACHE_TTL_MINUTES", 1440)

	v.SetDefault("NZBDAV_CATEGORY_MOVIES", "movies")
	v.SetDefault("NZBDAV_CATEGORY_SERIES", "tv")

	v.SetDefault("EASYNEWS_ENABLED", false)
	v.SetDefault("LOG_LEVEL", "INFO")
}

// Load builds the effective Config: viper binds the flat env-style keys
// (§6), defaults fill anything unset, and the admin-editable Filters/Sorting
// subset is restored from state.json if present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	dataDir := paths.GetDataDir()

	cfg := &Config{
		Port:              v.GetInt("PORT"),
		AddonBaseURL:      v.GetString("ADDON_BASE_URL"),
		AddonSharedSecret: v.GetString("ADDON_SHARED_SECRET"),
		AddonName:         v.GetString("ADDON_NAME"),

		IndexerManager:               strings.ToLower(v.GetString("INDEXER_MANAGER")),
		IndexerManagerURL:            v.GetString("INDEXER_MANAGER_URL"),
		IndexerManagerAPIKey:         v.GetString("INDEXER_MANAGER_API_KEY"),
		IndexerManagerBackoffSeconds: v.GetInt("INDEXER_MANAGER_BACKOFF_SECONDS"),

		SortMode:                  v.GetString("NZB_SORT_MODE"),
		PreferredLanguage:         splitCSV(v.GetString("NZB_PREFERRED_LANGUAGE")),
		MaxResultSizeGB:           v.GetFloat64("NZB_MAX_RESULT_SIZE_GB"),
		AllowedResolutions:        splitCSV(v.GetString("NZB_ALLOWED_RESOLUTIONS")),
		ResolutionLimitPerQuality: v.GetInt("NZB_RESOLUTION_LIMIT_PER_QUALITY"),
		DedupEnabled:              v.GetBool("NZB_DEDUP_ENABLED"),
		HideBlockedResults:        v.GetBool("NZB_HIDE_BLOCKED_RESULTS"),

		TriageEnabled:             v.GetBool("NZB_TRIAGE_ENABLED"),
		TriageTimeBudgetMS:        v.GetInt("NZB_TRIAGE_TIME_BUDGET_MS"),
		TriageMaxCandidates:       v.GetInt("NZB_TRIAGE_MAX_CANDIDATES"),
		TriageDownloadConcurrency: v.GetInt("NZB_TRIAGE_DOWNLOAD_CONCURRENCY"),
		TriageMaxConnections:      v.GetInt("NZB_TRIAGE_MAX_CONNECTIONS"),
		TriageStatSampleCount:     v.GetInt("NZB_TRIAGE_STAT_SAMPLE_COUNT"),
		TriageArchiveSampleCount:  v.GetInt("NZB_TRIAGE_ARCHIVE_SAMPLE_COUNT"),
		NNTPHost:                  v.GetString("NZB_TRIAGE_NNTP_HOST"),
		NNTPPort:                  v.GetInt("NZB_TRIAGE_NNTP_PORT"),
		NNTPTLS:                   v.GetBool("NZB_TRIAGE_NNTP_TLS"),
		NNTPUser:                  v.GetString("NZB_TRIAGE_NNTP_USER"),
		NNTPPass:                  v.GetString("NZB_TRIAGE_NNTP_PASS"),
		NNTPKeepAliveMS:           v.GetInt("NZB_TRIAGE_NNTP_KEEP_ALIVE_MS"),
		ReusePool:                 v.GetBool("NZB_TRIAGE_REUSE_POOL"),
		PrefetchFirstVerified:     v.GetBool("NZB_TRIAGE_PREFETCH_FIRST_VERIFIED"),
		PriorityIndexers:          splitCSV(v.GetString("NZB_TRIAGE_PRIORITY_INDEXERS")),
		SerializedIndexers:        splitCSV(v.GetString("NZB_TRIAGE_SERIALIZED_INDEXERS")),

		StreamCacheTTLMinutes:      v.GetInt("STREAM_CACHE_TTL_MINUTES"),
		StreamCacheMaxSizeMB:       v.GetInt("STREAM_CACHE_MAX_SIZE_MB"),
		VerifiedNZBCacheTTLMinutes: v.GetInt("VERIFIED_NZB_CACHE_TTL_MINUTES"),
		VerifiedNZBCacheMaxSizeMB:  v.GetInt("VERIFIED_NZB_CACHE_MAX_SIZE_MB"),
		NZBDavCacheTTLMinutes:      v.GetInt("NZBDAV_CACHE_TTL_MINUTES"),

		NZBDavURL:            v.GetString("NZBDAV_URL"),
		NZBDavAPIKey:         v.GetString("NZBDAV_API_KEY"),
		NZBDavWebDAVURL:      v.GetString("NZBDAV_WEBDAV_URL"),
		NZBDavWebDAVUser:     v.GetString("NZBDAV_WEBDAV_USER"),
		NZBDavWebDAVPass:     v.GetString("NZBDAV_WEBDAV_PASS"),
		NZBDavCategoryMovies: v.GetString("NZBDAV_CATEGORY_MOVIES"),
		NZBDavCategorySeries: v.GetString("NZBDAV_CATEGORY_SERIES"),

		EasynewsEnabled:  v.GetBool("EASYNEWS_ENABLED"),
		EasynewsUsername: v.GetString("EASYNEWS_USERNAME"),
		EasynewsPassword: v.GetString("EASYNEWS_PASSWORD"),

		TMDBAPIKey: v.GetString("TMDB_API_KEY"),
		TVDBAPIKey: v.GetString("TVDB_API_KEY"),

		LogLevel: v.GetString("LOG_LEVEL"),
		DataDir:  dataDir,

		Filters: DefaultFilterConfig(),
		Sorting: DefaultSortConfig(),
	}

	for i := 1; i <= maxIndexerSlots; i++ {
		const prefix = "NEWZNAB_"
		suffix := strconv.Itoa(i)
		endpoint := v.GetString(prefix + "ENDPOINT_" + suffix)
		apiKey := v.GetString(prefix + "API_KEY_" + suffix)
		if endpoint == "" && apiKey == "" {
			continue
		}
		apiPath := v.GetString(prefix + "API_PATH_" + suffix)
		if apiPath == "" {
			apiPath = "/api"
		}
		name := v.GetString(prefix + "NAME_" + suffix)
		if name == "" {
			name = fmt.Sprintf("indexer-%d", i)
		}
		cfg.Indexers = append(cfg.Indexers, IndexerConfig{
			Slot:    i,
			Name:    name,
			URL:     endpoint,
			APIPath: apiPath,
			APIKey:  apiKey,
			Enabled: v.GetBool(prefix + "INDEXER_ENABLED_" + suffix),
			Paid:    v.GetBool(prefix + "PAID_" + suffix),
		})
	}

	if err := persistence.LoadInto(dataDir, "filters", &cfg.Filters); err != nil {
		logger.Warn("failed to restore persisted filters, using defaults", "err", err)
	}
	if err := persistence.LoadInto(dataDir, "sorting", &cfg.Sorting); err != nil {
		logger.Warn("failed to restore persisted sort weights, using defaults", "err", err)
	}
	cfg.LoadedPath = dataDir

	if cfg.AddonSharedSecret == "" {
		cfg.AddonSharedSecret = generateSecret()
		logger.Warn("ADDON_SHARED_SECRET not set, generated a random one for this run", "secret", cfg.AddonSharedSecret)
	}

	return cfg, nil
}

// SaveEffective persists the admin-editable Filters/Sorting subset to
// state.json, the same discipline the teacher's dashboard used for
// FilterConfig/SortConfig; it never touches the env-derived fields.
func (c *Config) SaveEffective() error {
	if err := persistence.Save(c.DataDir, "filters", c.Filters); err != nil {
		return fmt.Errorf("save filters: %w", err)
	}
	if err := persistence.Save(c.DataDir, "sorting", c.Sorting); err != nil {
		return fmt.Errorf("save sorting: %w", err)
	}
	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func generateSecret() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:32]
}
