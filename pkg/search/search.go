package search

import (
	"fmt"
	"sync"

	"github.com/mozillazg/go-unidecode"

	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/release"
)

// asciiSafeTitle implements the ASCII-fallback decision (spec §9 open
// question): prefer the title as resolved; if it carries non-ASCII runes,
// transliterate it once with unidecode so downstream indexers (and
// Easynews in particular) that choke on non-Latin queries still get a
// usable search term.
func asciiSafeTitle(title string) string {
	for _, r := range title {
		if r > 127 {
			return unidecode.Unidecode(title)
		}
	}
	return title
}

// TMDBResolver resolves movie/TV titles for text search.
type TMDBResolver interface {
	GetMovieTitle(imdbID, tmdbID string) (string, error)
	GetTVShowName(tmdbID, imdbID string) (string, error)
	GetAlternateTitle(contentType, tmdbID, imdbID string) (string, error)
}

// ContentIDs carries the external identifiers Stremio supplies for a stream
// request, used to resolve a human title for the text-search fallback.
type ContentIDs struct {
	ImdbID string
	TmdbID string
	TvdbID string
}

// RunIndexerSearches runs ID-based and text-based searches in parallel, merges and dedupes.
// Text search uses TMDB to resolve titles; when TMDB is unavailable, only ID search runs.
func RunIndexerSearches(idx indexer.Indexer, tmdbClient TMDBResolver, req indexer.SearchRequest, contentType string, contentIDs ContentIDs, imdbForText, tmdbForText string) ([]*release.Release, error) {
	idReq := req
	idReq.Query = ""

	var textQuery string
	if tmdbClient != nil {
		if contentType == "movie" {
			if t, err := tmdbClient.GetMovieTitle(contentIDs.ImdbID, req.TMDBID); err == nil {
				textQuery = asciiSafeTitle(t)
			}
		} else if req.Season != "" && req.Episode != "" {
			if name, err := tmdbClient.GetTVShowName(tmdbForText, imdbForText); err == nil {
				textQuery = fmt.Sprintf("%s S%sE%s", asciiSafeTitle(name), req.Season, req.Episode)
			}
		}
	}

	var idResp *indexer.SearchResponse
	var idErr error
	var textReleases []*release.Release
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		idResp, idErr = idx.Search(idReq)
	}()
	if textQuery != "" {
		wg.Add(1)
		textReq := indexer.SearchRequest{Query: textQuery, Cat: req.Cat, Limit: req.Limit, Season: req.Season, Episode: req.Episode}
		go func() {
			defer wg.Done()
			if resp, err := idx.Search(textReq); err == nil {
				indexer.NormalizeSearchResponse(resp)
				textReleases = FilterTextResultsByContent(resp.Releases, contentType, textQuery, req.Season, req.Episode)
			}
		}()
	}
	wg.Wait()

	if idErr != nil {
		return nil, fmt.Errorf("indexer search failed: %w", idErr)
	}
	indexer.NormalizeSearchResponse(idResp)
	idReleases := make([]*release.Release, 0, len(idResp.Releases)+len(textReleases))
	for _, rel := range idResp.Releases {
		if rel != nil {
			rel.QuerySource = "id"
			idReleases = append(idReleases, rel)
		}
	}
	for _, rel := range textReleases {
		if rel != nil {
			rel.QuerySource = "text"
			idReleases = append(idReleases, rel)
		}
	}
	if len(textReleases) > 0 {
		logger.Debug("Indexer dual search", "id", len(idResp.Releases), "text", len(textReleases))
	}
	merged := MergeAndDedupeSearchResults(idReleases)

	if len(merged) == 0 && tmdbClient != nil {
		if alt := resolveAlternateTitle(tmdbClient, contentType, req, contentIDs, imdbForText, tmdbForText); alt != "" {
			altReq := indexer.SearchRequest{Query: alt, Cat: req.Cat, Limit: req.Limit, Season: req.Season, Episode: req.Episode}
			if resp, err := idx.Search(altReq); err == nil {
				indexer.NormalizeSearchResponse(resp)
				altReleases := FilterTextResultsByContent(resp.Releases, contentType, alt, req.Season, req.Episode)
				for _, rel := range altReleases {
					if rel != nil {
						rel.QuerySource = "text"
					}
				}
				if len(altReleases) > 0 {
					logger.Debug("Indexer alternate-title re-dispatch", "title", alt, "found", len(altReleases))
					merged = MergeAndDedupeSearchResults(altReleases)
				}
			}
		}
	}

	return merged, nil
}

// resolveAlternateTitle looks up the original (pre-localization) title for
// the alternate-title re-dispatch: a second text plan run only when every
// plan already executed returned nothing.
func resolveAlternateTitle(tmdbClient TMDBResolver, contentType string, req indexer.SearchRequest, contentIDs ContentIDs, imdbForText, tmdbForText string) string {
	if contentType == "movie" {
		alt, err := tmdbClient.GetAlternateTitle(contentType, req.TMDBID, contentIDs.ImdbID)
		if err != nil {
			return ""
		}
		return asciiSafeTitle(alt)
	}
	if req.Season == "" || req.Episode == "" {
		return ""
	}
	alt, err := tmdbClient.GetAlternateTitle(contentType, tmdbForText, imdbForText)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s S%sE%s", asciiSafeTitle(alt), req.Season, req.Episode)
}
