// Package triage runs the bounded, time-budgeted health check that
// downloads each candidate release's NZB, samples a handful of its Usenet
// segments, and classifies any archive payload without fully unpacking it.
package triage

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/nzbstream/nzbstream/pkg/archive"
	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/nntp"
	"github.com/nzbstream/nzbstream/pkg/nzb"
	"github.com/nzbstream/nzbstream/pkg/release"
)

// Status is one of the closed triage decision outcomes.
type Status string

const (
	StatusVerified     Status = "verified"
	StatusUnverified    Status = "unverified"
	StatusUnverified7z  Status = "unverified_7z"
	StatusBlocked       Status = "blocked"
	StatusFetchError    Status = "fetch-error"
	StatusError         Status = "error"
	StatusPending       Status = "pending"
	StatusSkipped       Status = "skipped"
)

// Decision is the triage outcome for one candidate release.
type Decision struct {
	Status   Status
	Findings []string
	NZBBody  []byte // captured only when Status == StatusVerified
	Err      error
}

// Summary is the aggregate result of one Run call.
type Summary struct {
	Decisions map[string]*Decision // keyed by release download URL
	Counts    map[Status]int
	ElapsedMS int64
	TimedOut  bool
}

// Runner evaluates candidate releases against the configured time/
// concurrency budget using a shared NNTP pool for segment sampling.
type Runner struct {
	cfg  *config.Config
	pool *nntp.ClientPool
}

// New builds a Runner bound to the effective config and the shared NNTP
// pool used for STAT/BODY sampling.
func New(cfg *config.Config, pool *nntp.ClientPool) *Runner {
	return &Runner{cfg: cfg, pool: pool}
}

// Run dedupes candidates by normalized title, keeps at most the configured
// bound, and evaluates them with bounded worker concurrency, serializing
// per-indexer work for indexers configured as ban-parallel-downloads.
func (r *Runner) Run(ctx context.Context, candidates []*release.Release) *Summary {
	started := time.Now()
	deadline := started.Add(time.Duration(r.cfg.TriageTimeBudgetMS) * time.Millisecond)

	deduped := dedupeByTitle(candidates)
	if r.cfg.TriageMaxCandidates > 0 && len(deduped) > r.cfg.TriageMaxCandidates {
		deduped = deduped[:r.cfg.TriageMaxCandidates]
	}

	summary := &Summary{
		Decisions: make(map[string]*Decision, len(deduped)),
		Counts:    make(map[Status]int),
	}
	if len(deduped) == 0 {
		summary.ElapsedMS = time.Since(started).Milliseconds()
		return summary
	}

	serialized := make(map[string]bool, len(r.cfg.SerializedIndexers))
	for _, name := range r.cfg.SerializedIndexers {
		serialized[strings.ToLower(name)] = true
	}

	var mu sync.Mutex
	indexerLocks := make(map[string]*sync.Mutex)
	lockFor := func(name string) *sync.Mutex {
		mu.Lock()
		defer mu.Unlock()
		l, ok := indexerLocks[name]
		if !ok {
			l = &sync.Mutex{}
			indexerLocks[name] = l
		}
		return l
	}

	maxGoroutines := r.cfg.TriageDownloadConcurrency
	if maxGoroutines <= 0 {
		maxGoroutines = 8
	}
	p := pool.New().WithMaxGoroutines(maxGoroutines)

	timedOut := false
	var timedOutMu sync.Mutex

	for _, rel := range deduped {
		rel := rel
		p.Go(func() {
			if time.Now().After(deadline) {
				timedOutMu.Lock()
				timedOut = true
				timedOutMu.Unlock()
				recordDecision(summary, &mu, rel, &Decision{Status: StatusPending})
				return
			}

			indexerName := strings.ToLower(rel.Indexer)
			if serialized[indexerName] {
				l := lockFor(indexerName)
				l.Lock()
				defer l.Unlock()
			}

			remaining := time.Until(deadline)
			if remaining <= 0 {
				recordDecision(summary, &mu, rel, &Decision{Status: StatusPending})
				return
			}

			decision := r.evaluate(ctx, rel, remaining)
			recordDecision(summary, &mu, rel, decision)
		})
	}
	p.Wait()

	summary.ElapsedMS = time.Since(started).Milliseconds()
	summary.TimedOut = timedOut
	logger.Debug("triage run complete", "candidates", len(deduped), "elapsed_ms", summary.ElapsedMS, "timed_out", summary.TimedOut)
	return summary
}

func recordDecision(summary *Summary, mu *sync.Mutex, rel *release.Release, d *Decision) {
	mu.Lock()
	defer mu.Unlock()
	summary.Decisions[rel.Link] = d
	summary.Counts[d.Status]++
}

// evaluate downloads one candidate's NZB and runs the triage analyzer
// against it within the given deadline.
func (r *Runner) evaluate(ctx context.Context, rel *release.Release, budget time.Duration) *Decision {
	idx, ok := rel.SourceIndexer.(indexer.Indexer)
	if !ok || idx == nil {
		return &Decision{Status: StatusError, Err: fmt.Errorf("no source indexer bound to release %q", rel.Title)}
	}

	dlCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	body, err := idx.DownloadNZB(dlCtx, rel.Link)
	if err != nil {
		return &Decision{Status: StatusFetchError, Err: err}
	}

	deadline := time.Now().Add(budget)
	return r.analyze(body, deadline)
}

// archiveCandidate is one NZB file recognized as part of an archive, scored
// for how likely it is to be the main payload worth sampling.
type archiveCandidate struct {
	file      *nzb.File
	canonical string
	score     int
	isSevenZ  bool
}

// analyze implements the Triage Analyzer: parse the NZB, find archive
// candidates, sample segments via STAT/BODY, sniff any archive payload, and
// synthesize a decision.
func (r *Runner) analyze(nzbBody []byte, deadline time.Time) *Decision {
	parsed, err := nzb.Parse(bytes.NewReader(nzbBody))
	if err != nil {
		return &Decision{Status: StatusError, Err: fmt.Errorf("parse nzb: %w", err)}
	}

	candidates := findArchiveCandidates(parsed)
	var findings []string

	if len(candidates) == 0 {
		findings = append(findings, "no-archive-candidates")
		blocked, err := r.sampleRandomSegments(parsed, r.cfg.TriageStatSampleCount, deadline)
		if err != nil {
			return &Decision{Status: StatusError, Err: err}
		}
		if blocked {
			findings = append(findings, "missing-articles")
			return &Decision{Status: StatusBlocked, Findings: findings}
		}
		return &Decision{Status: StatusUnverified, Findings: findings}
	}

	best := bestArchiveCandidate(candidates)
	firstSeg := firstSegment(best.file)
	if firstSeg == nil {
		findings = append(findings, "missing-articles")
		return &Decision{Status: StatusBlocked, Findings: findings}
	}

	client, err := r.pool.Get(context.Background())
	if err != nil {
		return &Decision{Status: StatusFetchError, Err: err}
	}
	defer r.pool.Put(client)

	ok, err := client.StatArticle(firstSeg.ID)
	if err != nil {
		return &Decision{Status: StatusFetchError, Err: err}
	}
	if !ok {
		findings = append(findings, "missing-articles")
		return &Decision{Status: StatusBlocked, Findings: findings}
	}

	if best.isSevenZ {
		findings = append(findings, string(archive.StatusSevenZipUntested))
	} else {
		body, err := client.GetBody(fmt.Sprintf("<%s>", strings.Trim(firstSeg.ID, "<>")))
		if err != nil {
			findings = append(findings, "missing-articles")
		} else {
			sample := []byte(body)
			status := archive.Sniff(sample)
			// The manual header walk in Sniff can read a RAR volume as stored
			// when the sampled range only covers metadata blocks. Cross-check
			// a "stored" verdict against rardecode's own archive listing
			// before trusting it; a confirmed-compressed volume downgrades to
			// a hard block rather than a false verified.
			if status == archive.StatusRarStored {
				if compressed, ok := archive.ConfirmRARViaDecode(sample); ok && compressed {
					logger.Debug("triage: rardecode overrides stored verdict", "status", archive.StatusRarCompressed)
					status = archive.StatusRarCompressed
				}
			}
			findings = append(findings, string(status))
			if archive.Blockers[status] {
				return &Decision{Status: StatusBlocked, Findings: findings}
			}
		}
	}

	if blocked, err := r.sampleOtherArchives(candidates, best, r.cfg.TriageArchiveSampleCount, client); err == nil && blocked {
		findings = append(findings, "missing-articles")
		return &Decision{Status: StatusBlocked, Findings: findings}
	}

	return synthesize(findings, nzbBody)
}

// synthesize turns the accumulated findings into the final decision per
// the closed taxonomy: verified requires at least one positive finding and
// no blocker; 7z-only evidence downgrades to unverified_7z.
func synthesize(findings []string, body []byte) *Decision {
	positives := map[string]bool{
		string(archive.StatusRarStored):     true,
		string(archive.StatusSevenZipStored): true,
		"segment-ok":                         true,
	}
	hasPositive := false
	onlySevenZ := len(findings) > 0
	for _, f := range findings {
		if positives[f] {
			hasPositive = true
		}
		if !strings.HasPrefix(f, "sevenzip") {
			onlySevenZ = false
		}
	}

	if hasPositive {
		return &Decision{Status: StatusVerified, Findings: findings, NZBBody: body}
	}
	if onlySevenZ {
		return &Decision{Status: StatusUnverified7z, Findings: findings}
	}
	return &Decision{Status: StatusUnverified, Findings: findings}
}

// sampleRandomSegments STATs up to n unique segments drawn across all files;
// reports true if any is missing (a blocker).
func (r *Runner) sampleRandomSegments(n *nzb.NZB, count int, deadline time.Time) (blocked bool, err error) {
	var allSegments []nzb.Segment
	for _, f := range n.Files {
		allSegments = append(allSegments, f.Segments...)
	}
	if len(allSegments) == 0 {
		return true, nil
	}
	sample := pickRandom(allSegments, count)

	client, getErr := r.pool.Get(context.Background())
	if getErr != nil {
		return false, getErr
	}
	defer r.pool.Put(client)

	for _, seg := range sample {
		if time.Now().After(deadline) {
			break
		}
		ok, statErr := client.StatArticle(seg.ID)
		if statErr != nil || !ok {
			return true, nil
		}
	}
	return false, nil
}

// sampleOtherArchives STATs up to count additional random segments across
// archive candidates other than the one already sniffed.
func (r *Runner) sampleOtherArchives(candidates []archiveCandidate, exclude archiveCandidate, count int, client *nntp.Client) (bool, error) {
	var segs []nzb.Segment
	for _, c := range candidates {
		if c.canonical == exclude.canonical {
			continue
		}
		segs = append(segs, c.file.Segments...)
	}
	for _, seg := range pickRandom(segs, count) {
		ok, err := client.StatArticle(seg.ID)
		if err != nil || !ok {
			return true, nil
		}
	}
	return false, nil
}

func pickRandom(segs []nzb.Segment, n int) []nzb.Segment {
	if n <= 0 || len(segs) == 0 {
		return nil
	}
	if n >= len(segs) {
		return segs
	}
	idx := rand.Perm(len(segs))[:n]
	out := make([]nzb.Segment, 0, n)
	for _, i := range idx {
		out = append(out, segs[i])
	}
	return out
}

func firstSegment(f *nzb.File) *nzb.Segment {
	best := -1
	for i, seg := range f.Segments {
		if best == -1 || seg.Number < f.Segments[best].Number {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return &f.Segments[best]
}

// findArchiveCandidates identifies files whose name looks like part of an
// archive and dedupes by canonical base name, so "name.part01.rar" and
// "name.r00" collapse to "name.rar".
func findArchiveCandidates(n *nzb.NZB) []archiveCandidate {
	seen := make(map[string]bool)
	var out []archiveCandidate
	for i := range n.Files {
		f := &n.Files[i]
		name := nzb.ExtractFilename(f.Subject)
		canonical, score, isSevenZ, ok := classifyArchiveName(name)
		if !ok {
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, archiveCandidate{file: f, canonical: canonical, score: score, isSevenZ: isSevenZ})
	}
	return out
}

// classifyArchiveName recognizes an archive-shaped filename, derives its
// canonical base name (the volume set's ".rar"/".7z" identity) and a
// selection score: .rar beats .r00 beats part-numbered .rar; proof/sample/
// nfo-named entries are penalized so they are never picked as the main
// payload to sniff.
func classifyArchiveName(name string) (canonical string, score int, isSevenZ bool, ok bool) {
	lower := strings.ToLower(name)
	ext := strings.ToLower(filepath.Ext(lower))
	base := strings.TrimSuffix(lower, ext)

	switch {
	case ext == ".rar" && !strings.Contains(base, ".part"):
		canonical, score, ok = base+".rar", 100, true
	case strings.Contains(lower, ".part") && strings.HasSuffix(lower, ".rar"):
		canonical = partBaseName(lower) + ".rar"
		score, ok = 60, true
	case len(ext) == 4 && strings.HasPrefix(ext, ".r") && isDigits(ext[2:]):
		canonical, score, ok = base+".rar", 80, true
	case ext == ".7z":
		canonical, score, ok = base+".7z", 90, true
	case strings.Contains(lower, ".7z."):
		idx := strings.Index(lower, ".7z.")
		canonical, score, ok = lower[:idx]+".7z", 50, true
	default:
		return "", 0, false, false
	}

	isSevenZ = strings.HasSuffix(canonical, ".7z")
	if strings.Contains(lower, "proof") || strings.Contains(lower, "sample") || strings.Contains(lower, "nfo") {
		score -= 1000
	}
	return canonical, score, isSevenZ, ok
}

func partBaseName(lower string) string {
	idx := strings.Index(lower, ".part")
	if idx == -1 {
		return lower
	}
	return lower[:idx]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func bestArchiveCandidate(candidates []archiveCandidate) archiveCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best
}

// dedupeByTitle keeps the first release seen per normalized title,
// preserving input order (id-sourced results were already placed first by
// the search merge step).
func dedupeByTitle(in []*release.Release) []*release.Release {
	seen := make(map[string]bool, len(in))
	out := make([]*release.Release, 0, len(in))
	for _, rel := range in {
		if rel == nil {
			continue
		}
		key := release.NormalizeTitle(rel.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rel)
	}
	return out
}
