// Package release holds the unified Release representation shared across
// indexer clients, the ranker and the triage runner, plus the release title
// parser that extracts resolution, language and quality signals from it.
package release

import (
	"net"
	"net/url"
	"strings"
)

// Release is a unified representation of a candidate NZB release returned by
// an indexer search. Immutable once constructed; owned by the orchestrator
// for the lifetime of one request.
type Release struct {
	Title      string // raw release title, e.g. "Movie.2024.1080p.BluRay.x264-GROUP"
	Link       string // NZB download URL
	DetailsURL string // stable identifier, used for dedupe/reporting
	Size       int64  // bytes
	Indexer    string // display name of the indexer that produced this result
	// SourceIndexer is the client capable of re-downloading this release's
	// NZB (nil for results that only expose a direct URL).
	SourceIndexer interface{}

	PubDate     string // RFC1123 / RFC1123Z, used for age scoring and dedupe windows
	GUID        string
	QuerySource string // "id" or "text" — id-sourced results are preferred on dedupe ties
	Grabs       int    // popularity signal from the newznab grabs attribute

	Resolution   string   // one of the closed resolution label set, see ResolutionRank
	Languages    []string // detected language names
	QualityScore int      // rank of Resolution within the ordered label list
}

// EqualByTitle reports whether both releases share a normalized title.
func (r *Release) EqualByTitle(other *Release) bool {
	if r == nil || other == nil {
		return r == other
	}
	return NormalizeTitle(r.Title) == NormalizeTitle(other.Title)
}

// NormalizeTitle normalizes a release title for dedupe/matching: lowercase,
// replace `._-` with space, strip quotes/brackets/parens, drop
// non-alphanumerics, collapse whitespace runs.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer(".", " ", "_", " ", "-", " ")
	s = replacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ':
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		default:
			// quotes, brackets, parens and all other punctuation are dropped,
			// not replaced with a space, so "don't" -> "dont" not "don t"
		}
	}
	return strings.TrimSpace(b.String())
}

// IsPrivateReleaseURL reports whether rawURL resolves to a loopback or
// private-network host. Such URLs come from a local proxy and are never
// safe to hand to another peer or cache across requests.
func IsPrivateReleaseURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	host, _, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Hostname()
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate() || ip.IsLoopback()
	}
	lower := strings.ToLower(host)
	return lower == "localhost" || strings.HasSuffix(lower, ".local")
}
