package orchestrator

import (
	"strings"
	"testing"

	"github.com/nzbstream/nzbstream/pkg/release"
	"github.com/nzbstream/nzbstream/pkg/triage"
)

func TestFormatStreamTitleIncludesBadgesAndTag(t *testing.T) {
	rel := &release.Release{
		Title:      "Movie.2024.1080p.BluRay.x264-GROUP",
		Size:       2 * 1024 * 1024 * 1024,
		Resolution: "1080p",
		Languages:  []string{"english"},
		Indexer:    "free-site",
	}
	title := formatStreamTitle(rel, "✅", true)
	if !strings.Contains(title, "1080p") {
		t.Fatalf("expected resolution badge, got %q", title)
	}
	if !strings.Contains(title, "2.00 GB") {
		t.Fatalf("expected size badge, got %q", title)
	}
	if !strings.Contains(title, "english") {
		t.Fatalf("expected language badge, got %q", title)
	}
	if !strings.Contains(title, "✅") {
		t.Fatalf("expected triage tag, got %q", title)
	}
	if !strings.Contains(title, "⚡ Instant") {
		t.Fatalf("expected instant tag, got %q", title)
	}
}

func TestTriageAllFinal(t *testing.T) {
	summary := &triage.Summary{Decisions: map[string]*triage.Decision{
		"a": {Status: triage.StatusVerified},
		"b": {Status: triage.StatusBlocked},
	}}
	if !triageAllFinal(summary) {
		t.Fatal("expected all-final summary to report true")
	}

	summary.Decisions["c"] = &triage.Decision{Status: triage.StatusPending}
	if triageAllFinal(summary) {
		t.Fatal("expected a pending decision to report false")
	}
}

func TestMountCacheKey(t *testing.T) {
	if got := mountCacheKey("http://x/a.nzb", "", ""); got != "http://x/a.nzb" {
		t.Fatalf("expected downloadURL to win, got %q", got)
	}
	if got := mountCacheKey("", "payload123", ""); got != "easynews:payload123" {
		t.Fatalf("unexpected easynews key: %q", got)
	}
	if got := mountCacheKey("", "", "nzo1"); got != "history:nzo1" {
		t.Fatalf("unexpected history key: %q", got)
	}
}
