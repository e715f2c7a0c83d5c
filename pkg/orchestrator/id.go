package orchestrator

import "strings"

// requestID is a parsed Stremio stream-request identifier: a content type
// ("movie"|"series"), the id proper (an IMDb tt-id or a "tmdb:"-prefixed
// TMDB id), and, for series, the season/episode hint (§4.11 step 1).
type requestID struct {
	Type    string
	ImdbID  string
	TmdbID  string
	Season  string
	Episode string
}

// parseRequestID parses "/stream/:type/:id.json" path components into a
// requestID. id forms observed: "tt1234567", "tt1234567:1:2",
// "tmdb:123", "tmdb:123:1:2".
func parseRequestID(contentType, id string) requestID {
	out := requestID{Type: contentType}

	parts := strings.Split(id, ":")
	base := parts[0]
	rest := parts[1:]

	if base == "tmdb" && len(rest) > 0 {
		out.TmdbID = rest[0]
		rest = rest[1:]
	} else {
		out.ImdbID = base
	}

	if contentType == "series" && len(rest) >= 2 {
		out.Season = rest[0]
		out.Episode = rest[1]
	}
	return out
}

// CanonicalID returns a stable base identifier used for cache keys and
// dedupe (§4.11 step 1: "derive base identifier (IMDb/TVDB/special
// prefix)").
func (r requestID) CanonicalID() string {
	if r.ImdbID != "" {
		return r.ImdbID
	}
	return "tmdb:" + r.TmdbID
}

// EpisodeHint returns the "SxxEyy"-style token used to match a file on the
// mount's WebDAV surface, or "" for movies.
func (r requestID) EpisodeHint() string {
	if r.Season == "" || r.Episode == "" {
		return ""
	}
	return "S" + pad2(r.Season) + "E" + pad2(r.Episode)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
