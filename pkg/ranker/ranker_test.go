package ranker

import (
	"testing"
	"time"

	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/release"
)

func baseConfig() *config.Config {
	return &config.Config{
		SortMode:        "quality_then_size",
		MaxResultSizeGB: 0,
		DedupEnabled:    true,
	}
}

func TestBlocklist(t *testing.T) {
	r := New(baseConfig())
	in := []*release.Release{
		{Title: "Movie.2024.1080p.BluRay.x264-GROUP"},
		{Title: "Movie.2024.ISO.disc.image"},
		{Title: "Movie.2024.1080p.EXE.installer"},
	}
	out := r.blocklist(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving release, got %d", len(out))
	}
}

func TestResolutionWhitelist(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedResolutions = []string{"1080p", "unknown"}
	r := New(cfg)
	in := []*release.Release{
		{Title: "a", Resolution: "1080p"},
		{Title: "b", Resolution: "720p"},
		{Title: "c", Resolution: "unknown"},
	}
	out := r.resolutionWhitelist(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving releases, got %d", len(out))
	}
}

func TestSizeCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxResultSizeGB = 1
	r := New(cfg)
	in := []*release.Release{
		{Title: "small", Size: 500 * 1024 * 1024},
		{Title: "big", Size: 2 * 1024 * 1024 * 1024},
	}
	out := r.sizeCap(in)
	if len(out) != 1 || out[0].Title != "small" {
		t.Fatalf("expected only 'small' to survive, got %v", out)
	}
}

func TestSortQualityThenSize(t *testing.T) {
	r := New(baseConfig())
	in := []*release.Release{
		{Title: "a", QualityScore: 5, Size: 100},
		{Title: "b", QualityScore: 9, Size: 50},
		{Title: "c", QualityScore: 9, Size: 200},
	}
	out := r.sort(in)
	if out[0].Title != "c" || out[1].Title != "b" || out[2].Title != "a" {
		t.Fatalf("unexpected sort order: %v", []string{out[0].Title, out[1].Title, out[2].Title})
	}
}

func TestSortLanguageQualitySize(t *testing.T) {
	cfg := baseConfig()
	cfg.SortMode = "language_quality_size"
	cfg.PreferredLanguage = []string{"french", "english"}
	r := New(cfg)
	in := []*release.Release{
		{Title: "eng", QualityScore: 9, Languages: []string{"english"}},
		{Title: "fre", QualityScore: 1, Languages: []string{"french"}},
		{Title: "none", QualityScore: 9, Languages: []string{"german"}},
	}
	out := r.sort(in)
	if out[0].Title != "fre" {
		t.Fatalf("expected french-language release first, got %s", out[0].Title)
	}
	if out[len(out)-1].Title != "none" {
		t.Fatalf("expected unmatched-language release last, got %s", out[len(out)-1].Title)
	}
}

func TestPerResolutionCap(t *testing.T) {
	cfg := baseConfig()
	cfg.ResolutionLimitPerQuality = 1
	r := New(cfg)
	in := []*release.Release{
		{Title: "a", Resolution: "1080p"},
		{Title: "b", Resolution: "1080p"},
		{Title: "c", Resolution: "720p"},
	}
	out := r.perResolutionCap(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving releases, got %d", len(out))
	}
}

func TestDedupePrefersPaidThenNewest(t *testing.T) {
	cfg := baseConfig()
	cfg.Indexers = []config.IndexerConfig{{Name: "paid-site", Paid: true}}
	r := New(cfg)

	now := time.Now()
	old := now.Add(-48 * time.Hour).Format(time.RFC1123Z)
	newer := now.Format(time.RFC1123Z)

	in := []*release.Release{
		{Title: "Movie.2024.1080p.BluRay.x264-GROUP", Indexer: "free-site", PubDate: newer},
		{Title: "Movie 2024 1080p BluRay x264 GROUP", Indexer: "paid-site", PubDate: old},
	}
	out := r.dedupe(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving release, got %d", len(out))
	}
	if out[0].Indexer != "paid-site" {
		t.Fatalf("expected paid-indexer release to survive, got %s", out[0].Indexer)
	}
}

func TestDedupeSplitsByPublishWindow(t *testing.T) {
	r := New(baseConfig())
	now := time.Now()
	recent := now.Format(time.RFC1123Z)
	monthsAgo := now.Add(-60 * 24 * time.Hour).Format(time.RFC1123Z)

	in := []*release.Release{
		{Title: "Movie.2024.1080p.BluRay.x264-GROUP", PubDate: recent},
		{Title: "Movie.2024.1080p.BluRay.x264-GROUP", PubDate: monthsAgo},
	}
	out := r.dedupe(in)
	if len(out) != 2 {
		t.Fatalf("expected releases 60 days apart to form separate subgroups, got %d", len(out))
	}
}
