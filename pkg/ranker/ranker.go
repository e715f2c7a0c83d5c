// Package ranker implements the ordered release-ranking pipeline: blocklist,
// resolution whitelist, size cap, sort, per-resolution cap, dedupe. Each
// stage may drop or reorder releases; stages run in a fixed order and never
// re-run earlier stages.
package ranker

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/release"
)

// blocklistPattern matches the token-level junk extensions the pipeline
// drops outright: disc images and executables are never playable.
var blocklistPattern = regexp.MustCompile(`(?i)\b(iso|img|bin|cue|exe)\b`)

// dedupeWindow is the publish-date proximity used to group near-duplicate
// releases of the same normalized title before picking one survivor.
const dedupeWindow = 14 * 24 * time.Hour

// Ranker applies the configured pipeline to a release slice. PaidIndexers
// holds the set of indexer display names configured as paid (§4.2), used
// only to break dedupe ties.
type Ranker struct {
	cfg          *config.Config
	paidIndexers map[string]bool
}

// New builds a Ranker bound to the effective config and the paid/free
// classification of every configured direct-Newznab slot.
func New(cfg *config.Config) *Ranker {
	paid := make(map[string]bool)
	for _, idx := range cfg.Indexers {
		if idx.Paid {
			paid[idx.Name] = true
		}
	}
	return &Ranker{cfg: cfg, paidIndexers: paid}
}

// Rank runs the full pipeline in order and returns the surviving releases.
func (r *Ranker) Rank(releases []*release.Release) []*release.Release {
	out := r.blocklist(releases)
	out = r.resolutionWhitelist(out)
	out = r.sizeCap(out)
	out = r.sort(out)
	out = r.perResolutionCap(out)
	if r.cfg.DedupEnabled {
		out = r.dedupe(out)
	}
	return out
}

// blocklist drops titles whose tokens match the disc-image/executable
// junk pattern.
func (r *Ranker) blocklist(in []*release.Release) []*release.Release {
	out := in[:0:0]
	for _, rel := range in {
		if rel == nil {
			continue
		}
		if blocklistPattern.MatchString(rel.Title) {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// resolutionWhitelist drops releases whose detected resolution is not in
// the configured allow-set; "unknown" is admitted only when explicitly
// allowed. An empty allow-set admits everything.
func (r *Ranker) resolutionWhitelist(in []*release.Release) []*release.Release {
	if len(r.cfg.AllowedResolutions) == 0 {
		return in
	}
	allowed := make(map[string]bool, len(r.cfg.AllowedResolutions))
	for _, res := range r.cfg.AllowedResolutions {
		allowed[strings.ToLower(strings.TrimSpace(res))] = true
	}
	out := in[:0:0]
	for _, rel := range in {
		if rel == nil {
			continue
		}
		if allowed[strings.ToLower(rel.Resolution)] {
			out = append(out, rel)
		}
	}
	return out
}

// sizeCap drops releases whose size exceeds the configured maximum. A
// non-positive configured max disables the cap.
func (r *Ranker) sizeCap(in []*release.Release) []*release.Release {
	if r.cfg.MaxResultSizeGB <= 0 {
		return in
	}
	maxBytes := int64(r.cfg.MaxResultSizeGB * 1024 * 1024 * 1024)
	out := in[:0:0]
	for _, rel := range in {
		if rel == nil {
			continue
		}
		if rel.Size > maxBytes {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// sort orders releases per the configured mode. Both modes are stable so
// earlier stages' relative ordering survives ties.
func (r *Ranker) sort(in []*release.Release) []*release.Release {
	switch r.cfg.SortMode {
	case "language_quality_size":
		bucket := languageBucketIndex(r.cfg.PreferredLanguage)
		sort.SliceStable(in, func(i, j int) bool {
			bi, bj := bucket(in[i]), bucket(in[j])
			if bi != bj {
				return bi < bj
			}
			return qualityThenSizeLess(in[i], in[j])
		})
	default: // "quality_then_size"
		sort.SliceStable(in, qualityThenSizeLessFunc(in))
	}
	return in
}

func qualityThenSizeLessFunc(in []*release.Release) func(i, j int) bool {
	return func(i, j int) bool { return qualityThenSizeLess(in[i], in[j]) }
}

func qualityThenSizeLess(a, b *release.Release) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	return a.Size > b.Size
}

// languageBucketIndex returns a function mapping a release to the index of
// the first preferred language its language set intersects, or
// len(preferred) for releases matching none (sorted last among buckets).
func languageBucketIndex(preferred []string) func(*release.Release) int {
	order := make(map[string]int, len(preferred))
	for i, lang := range preferred {
		order[strings.ToLower(strings.TrimSpace(lang))] = i
	}
	none := len(preferred)
	return func(rel *release.Release) int {
		best := none
		for _, lang := range rel.Languages {
			if idx, ok := order[strings.ToLower(lang)]; ok && idx < best {
				best = idx
			}
		}
		return best
	}
}

// perResolutionCap keeps at most K releases per resolution token, in
// post-sort order. K<=0 disables the cap.
func (r *Ranker) perResolutionCap(in []*release.Release) []*release.Release {
	if r.cfg.ResolutionLimitPerQuality <= 0 {
		return in
	}
	counts := make(map[string]int)
	out := in[:0:0]
	for _, rel := range in {
		if rel == nil {
			continue
		}
		counts[rel.Resolution]++
		if counts[rel.Resolution] > r.cfg.ResolutionLimitPerQuality {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// dedupe groups releases by normalized title, subgroups each by 14-day
// publish proximity, and keeps one survivor per subgroup: paid-indexer
// sources first, then the most recently published.
func (r *Ranker) dedupe(in []*release.Release) []*release.Release {
	groups := make(map[string][]*release.Release)
	var order []string
	for _, rel := range in {
		if rel == nil {
			continue
		}
		key := release.NormalizeTitle(rel.Title)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rel)
	}

	var out []*release.Release
	for _, key := range order {
		for _, sub := range r.subgroupByPublishWindow(groups[key]) {
			out = append(out, r.bestOf(sub))
		}
	}
	return out
}

// subgroupByPublishWindow partitions releases (already in the same
// normalized-title group) into clusters whose publish instants fall within
// dedupeWindow of the cluster's earliest member. Releases with unparsable
// publish dates form their own singleton clusters.
func (r *Ranker) subgroupByPublishWindow(in []*release.Release) [][]*release.Release {
	type timed struct {
		rel *release.Release
		at  time.Time
		ok  bool
	}
	ts := make([]timed, len(in))
	for i, rel := range in {
		t, err := parsePubDate(rel.PubDate)
		ts[i] = timed{rel: rel, at: t, ok: err == nil}
	}
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].ok != ts[j].ok {
			return ts[i].ok
		}
		return ts[i].at.Before(ts[j].at)
	})

	var groups [][]*release.Release
	var cur []*release.Release
	var curStart time.Time
	for _, t := range ts {
		if !t.ok {
			groups = append(groups, []*release.Release{t.rel})
			continue
		}
		if len(cur) == 0 {
			cur = []*release.Release{t.rel}
			curStart = t.at
			continue
		}
		if t.at.Sub(curStart) <= dedupeWindow {
			cur = append(cur, t.rel)
			continue
		}
		groups = append(groups, cur)
		cur = []*release.Release{t.rel}
		curStart = t.at
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// bestOf picks one survivor from a dedupe subgroup: paid-indexer sources
// first, then the most recently published.
func (r *Ranker) bestOf(in []*release.Release) *release.Release {
	best := in[0]
	bestAt, _ := parsePubDate(best.PubDate)
	bestPaid := r.paidIndexers[best.Indexer]
	for _, rel := range in[1:] {
		paid := r.paidIndexers[rel.Indexer]
		at, _ := parsePubDate(rel.PubDate)
		switch {
		case paid && !bestPaid:
			best, bestAt, bestPaid = rel, at, paid
		case paid == bestPaid && at.After(bestAt):
			best, bestAt, bestPaid = rel, at, paid
		}
	}
	return best
}

var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123, time.RFC3339}

func parsePubDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
