package nzbhydra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nzbstream/nzbstream/pkg/indexer"
)

// ResolveDetailsLinks asks NZBHydra2's internal (undocumented, UI-facing)
// search API for the details_link of every result in the same search,
// since the public Newznab feed's GUID is a NZBHydra2-internal hash rather
// than the underlying indexer's own identifier.
func (c *Client) ResolveDetailsLinks(req indexer.SearchRequest) (map[string]string, error) {
	payload, err := json.Marshal(internalSearchPayload(req))
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 internal search payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.baseURL+"/internalapi/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 internal search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 internal search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nzbhydra2 internal search: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		SearchResults []struct {
			SearchResultID string `json:"searchResultId"`
			DetailsLink    string `json:"details_link"`
		} `json:"searchResults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("nzbhydra2 internal search decode: %w", err)
	}

	links := make(map[string]string, len(decoded.SearchResults))
	for _, r := range decoded.SearchResults {
		if r.DetailsLink != "" {
			links[r.SearchResultID] = r.DetailsLink
		}
	}
	return links, nil
}

// internalSearchPayload mirrors the query parameters of the public Newznab
// search as the JSON body the internal API expects, so details_links line
// up with the same result set.
func internalSearchPayload(req indexer.SearchRequest) map[string]any {
	body := map[string]any{
		"searchType": determineSearchType(req),
		"limit":      1000,
	}
	if req.Query != "" {
		body["query"] = req.Query
	}
	if req.IMDbID != "" {
		body["imdbId"] = strings.TrimPrefix(req.IMDbID, "tt")
	}
	if req.TMDBID != "" {
		body["tmdbId"] = req.TMDBID
	}
	if req.TVDBID != "" {
		body["tvdbId"] = req.TVDBID
	}
	if req.Season != "" {
		body["season"] = req.Season
	}
	if req.Episode != "" {
		body["episode"] = req.Episode
	}
	return body
}

// determineSearchType maps an internal search category to the NZBHydra2
// search type used by both the public and internal search endpoints.
func determineSearchType(req indexer.SearchRequest) string {
	switch req.Cat {
	case "2000":
		return "MOVIE"
	case "5000":
		return "TVSEARCH"
	default:
		return "SEARCH"
	}
}
