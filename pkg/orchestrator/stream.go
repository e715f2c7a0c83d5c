package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nzbstream/nzbstream/pkg/cache"
	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/release"
	"github.com/nzbstream/nzbstream/pkg/search"
	"github.com/nzbstream/nzbstream/pkg/stremio"
	"github.com/nzbstream/nzbstream/pkg/triage"
)

// partialState is what the Response Cache stores for an entry whose
// triageComplete is false: the ranked candidate list, so a later request for
// the same key can resume from triage instead of re-running the search
// (§4.11 step 2, "rehydrate the release list and continue from triage").
type partialState struct {
	Candidates []*release.Release `json:"candidates"`
}

// handleStream implements GET /stream/:type/:id.json (§4.11 steps 1-9).
func (o *Orchestrator) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), streamRequestTimeout)
	defer cancel()

	contentType, idPart, ok := splitStreamPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	reqID := parseRequestID(contentType, idPart)
	cacheKey := o.streamCacheKey(contentType, reqID)

	if payload, meta, hit := o.cache.Response.Get(cacheKey); hit {
		if meta.TriageComplete {
			writeJSON(w, payload)
			return
		}
		var partial partialState
		if err := json.Unmarshal(payload, &partial); err == nil {
			o.finishStream(ctx, w, contentType, reqID, cacheKey, partial.Candidates)
			return
		}
	}

	candidates, err := o.search(contentType, reqID)
	if err != nil {
		logger.Warn("stream search failed", "id", idPart, "type", contentType, "err", err)
		writeStreams(w, nil)
		return
	}
	ranked := o.ranker.Rank(candidates)
	o.finishStream(ctx, w, contentType, reqID, cacheKey, ranked)
}

// splitStreamPath parses "/stream/movie/tt1234567.json" into its type and
// (suffix-stripped) id components.
func splitStreamPath(p string) (contentType, id string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/stream/")
	if trimmed == p {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".json"), true
}

// streamCacheKey builds the canonical cache key for a request shape
// (§4.11 step 2). Sort mode is folded in since it changes the assembled
// response even for an identical candidate set.
func (o *Orchestrator) streamCacheKey(contentType string, id requestID) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", contentType, id.CanonicalID(), id.Season, id.Episode, o.cfg.SortMode)
}

// search dispatches the id-based and (TMDB-resolved) text-based indexer
// searches for one request (§4.11 steps 3-4). When the request is a series
// and only an IMDb id is known, the TVDB client is given a best-effort
// chance to resolve a secondary id; its result is only ever logged, never
// fed back into the TMDB-shaped search plan, since a TVDB id cannot
// substitute for a TMDB one.
func (o *Orchestrator) search(contentType string, id requestID) ([]*release.Release, error) {
	if id.TmdbID == "" && id.ImdbID != "" && contentType == "series" && o.tvdb != nil {
		if tvdbID, err := o.tvdb.ResolveTVDBID(id.ImdbID); err == nil {
			logger.Debug("resolved secondary TVDB id", "imdb_id", id.ImdbID, "tvdb_id", tvdbID)
		}
	}

	req := indexer.SearchRequest{
		IMDbID:  id.ImdbID,
		TMDBID:  id.TmdbID,
		Cat:     catFor(contentType),
		Limit:   100,
		Season:  id.Season,
		Episode: id.Episode,
	}
	contentIDs := search.ContentIDs{ImdbID: id.ImdbID, TmdbID: id.TmdbID}
	return search.RunIndexerSearches(o.indexer, o.tmdb, req, contentType, contentIDs, id.ImdbID, id.TmdbID)
}

func catFor(contentType string) string {
	if contentType == "series" {
		return "5000"
	}
	return "2000"
}

// finishStream runs triage (when applicable), assembles the stream list,
// writes it to the Response Cache, and writes the HTTP response
// (§4.11 steps 6-9).
func (o *Orchestrator) finishStream(ctx context.Context, w http.ResponseWriter, contentType string, id requestID, cacheKey string, candidates []*release.Release) {
	var summary *triage.Summary
	var firstVerified *release.Release
	hasIdentifier := id.ImdbID != "" || id.TmdbID != ""

	if o.cfg.TriageEnabled && hasIdentifier && o.triage != nil {
		eligible := o.triageEligible(candidates)
		summary = o.triage.Run(ctx, eligible)
		firstVerified = o.cacheVerified(eligible, summary)
	}

	if o.cfg.PrefetchFirstVerified && firstVerified != nil {
		o.prewarmMount(contentType, firstVerified)
	}

	streams := o.assembleStreams(contentType, id, candidates, summary)

	if summary != nil && !triageAllFinal(summary) {
		o.storePartial(cacheKey, candidates)
	} else {
		o.storeComplete(cacheKey, streams)
	}

	writeStreams(w, streams)
}

// triageEligible restricts candidates to the paid/health-eligible indexer
// subset plus Easynews when enabled (§4.11 step 6). Per-indexer circuit
// health is already enforced upstream by the aggregator's own circuit
// breaker (it simply won't return results from a tripped indexer), so this
// filter only needs to apply the paid/Easynews rule.
func (o *Orchestrator) triageEligible(candidates []*release.Release) []*release.Release {
	paid := make(map[string]bool, len(o.cfg.Indexers))
	for _, idx := range o.cfg.Indexers {
		if idx.Paid {
			paid[idx.Name] = true
		}
	}

	out := candidates[:0:0]
	for _, rel := range candidates {
		if rel == nil {
			continue
		}
		if paid[rel.Indexer] || (o.cfg.EasynewsEnabled && strings.EqualFold(rel.Indexer, "easynews")) {
			out = append(out, rel)
		}
	}
	return out
}

// cacheVerified stores every verified decision's NZB bytes in the
// Verified-NZB cache (§4.11 step 7) and returns the first verified release
// in candidate order, for the optional mount pre-warm.
func (o *Orchestrator) cacheVerified(candidates []*release.Release, summary *triage.Summary) *release.Release {
	if summary == nil {
		return nil
	}
	var first *release.Release
	for _, rel := range candidates {
		decision, ok := summary.Decisions[rel.Link]
		if !ok || decision.Status != triage.StatusVerified || decision.NZBBody == nil {
			continue
		}
		o.cache.Verified.Put(rel.Link, decision.NZBBody, cache.VerifiedNZBMeta{Indexer: rel.Indexer, VerifiedAt: time.Now()})
		if first == nil {
			first = rel
		}
	}
	return first
}

// triageAllFinal reports whether every decision in summary reached a
// terminal status, per §4.11 step 9.
func triageAllFinal(summary *triage.Summary) bool {
	for _, d := range summary.Decisions {
		if d.Status == triage.StatusPending || d.Status == triage.StatusSkipped {
			return false
		}
	}
	return true
}

// prewarmMount best-effort builds a mount handle for rel in the background,
// so a subsequent /nzb/stream request for it can skip straight to WebDAV
// (§4.11 step 7).
func (o *Orchestrator) prewarmMount(contentType string, rel *release.Release) {
	if o.mountCli == nil || o.cache == nil || o.cache.Mount == nil {
		return
	}
	category := o.mountCli.CategoryFor(contentType)
	go func() {
		_, err := o.cache.Mount.GetOrBuild(rel.Link, func() cache.BuildResult {
			return o.buildMountHandle(context.Background(), rel.Link, "", category, "")
		})
		if err != nil {
			logger.Debug("mount pre-warm failed", "link", rel.Link, "err", err)
		}
	}()
}

// assembleStreams builds one stremio.Stream per candidate: display title
// with quality/size/language badges and a triage tag, a signed playback
// URL, and Instant streams sorted first (§4.11 step 8).
func (o *Orchestrator) assembleStreams(contentType string, id requestID, candidates []*release.Release, summary *triage.Summary) []stremio.Stream {
	type assembled struct {
		stream  stremio.Stream
		instant bool
	}
	out := make([]assembled, 0, len(candidates))

	for _, rel := range candidates {
		if rel == nil {
			continue
		}
		tag, status := o.triageTag(rel, summary)
		if o.cfg.HideBlockedResults && status == triage.StatusBlocked {
			continue
		}
		instant := o.isInstant(rel)

		out = append(out, assembled{
			stream: stremio.Stream{
				URL:   o.playbackURL(contentType, id, rel),
				Name:  o.cfg.AddonName,
				Title: formatStreamTitle(rel, tag, instant),
				BehaviorHints: &stremio.BehaviorHints{
					VideoSize: rel.Size,
					Filename:  rel.Title,
				},
			},
			instant: instant,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].instant && !out[j].instant
	})

	streams := make([]stremio.Stream, len(out))
	for i, a := range out {
		streams[i] = a.stream
	}
	return streams
}

// triageTag maps a release's triage decision to its display glyph.
func (o *Orchestrator) triageTag(rel *release.Release, summary *triage.Summary) (string, triage.Status) {
	if summary == nil {
		return "", ""
	}
	decision, ok := summary.Decisions[rel.Link]
	if !ok {
		return "", ""
	}
	switch decision.Status {
	case triage.StatusVerified:
		return "✅", decision.Status
	case triage.StatusUnverified, triage.StatusUnverified7z:
		return "⚠️", decision.Status
	case triage.StatusBlocked:
		return "🚫", decision.Status
	default: // pending, skipped, fetch-error, error
		return "⏱️", decision.Status
	}
}

// isInstant reports whether rel already has a completed mount sitting in
// the Mount Handle Cache.
func (o *Orchestrator) isInstant(rel *release.Release) bool {
	if o.cache == nil || o.cache.Mount == nil {
		return false
	}
	_, ok := o.cache.Mount.Peek(rel.Link)
	return ok
}

// formatStreamTitle builds the multi-line display title Stremio renders
// under the stream name: resolution, size, languages, triage tag, Instant.
func formatStreamTitle(rel *release.Release, tag string, instant bool) string {
	var b strings.Builder
	b.WriteString(rel.Title)
	b.WriteString("\n")
	if rel.Resolution != "" {
		fmt.Fprintf(&b, "%s | ", rel.Resolution)
	}
	fmt.Fprintf(&b, "%.2f GB", float64(rel.Size)/(1024*1024*1024))
	if len(rel.Languages) > 0 {
		fmt.Fprintf(&b, " | %s", strings.Join(rel.Languages, ","))
	}
	if tag != "" {
		fmt.Fprintf(&b, " %s", tag)
	}
	if instant {
		b.WriteString(" ⚡ Instant")
	}
	fmt.Fprintf(&b, "\n%s", rel.Indexer)
	return b.String()
}

// playbackURL builds the signed /nzb/stream URL for rel (§4.11 step 8, §6).
func (o *Orchestrator) playbackURL(contentType string, id requestID, rel *release.Release) string {
	q := url.Values{}
	q.Set("downloadUrl", rel.Link)
	q.Set("type", contentType)
	q.Set("id", id.CanonicalID())
	q.Set("title", rel.Title)
	q.Set("size", strconv.FormatInt(rel.Size, 10))
	return o.gate.SignedURL(o.cfg.AddonBaseURL, "/nzb/stream?"+q.Encode())
}

func (o *Orchestrator) storePartial(cacheKey string, candidates []*release.Release) {
	payload, err := json.Marshal(partialState{Candidates: candidates})
	if err != nil {
		logger.Warn("failed to marshal partial response cache entry", "key", cacheKey, "err", err)
		return
	}
	pending := make([]string, 0, len(candidates))
	for _, rel := range candidates {
		if rel != nil {
			pending = append(pending, rel.Link)
		}
	}
	o.cache.Response.Put(cacheKey, payload, cache.ResponseMeta{TriageComplete: false, PendingURLs: pending})
}

func (o *Orchestrator) storeComplete(cacheKey string, streams []stremio.Stream) {
	payload, err := json.Marshal(stremio.StreamResponse{Streams: streams})
	if err != nil {
		logger.Warn("failed to marshal response cache entry", "key", cacheKey, "err", err)
		return
	}
	o.cache.Response.Put(cacheKey, payload, cache.ResponseMeta{TriageComplete: true})
}

func writeStreams(w http.ResponseWriter, streams []stremio.Stream) {
	if streams == nil {
		streams = []stremio.Stream{}
	}
	data, err := json.Marshal(stremio.StreamResponse{Streams: streams})
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	writeJSON(w, data)
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}
