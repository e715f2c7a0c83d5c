// Package prowlarr implements the Indexer client for one Prowlarr-proxied
// Usenet indexer, addressed through Prowlarr's per-indexer Newznab endpoint
// (/{indexerId}/api).
package prowlarr

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/logger"
)

// Client is a Prowlarr-proxied Newznab client bound to one indexer ID.
type Client struct {
	baseURL   string
	indexerID int
	apiKey    string
	name      string
	client    *http.Client

	apiLimit          int
	apiUsed           int
	apiRemaining      int
	downloadLimit     int
	downloadUsed      int
	downloadRemaining int
	usageManager      *indexer.UsageManager
	mu                sync.RWMutex
}

var _ indexer.Indexer = (*Client)(nil)

func (c *Client) checkAPILimit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.apiLimit > 0 && c.apiRemaining <= 0 {
		return fmt.Errorf("API limit reached for %s", c.Name())
	}
	return nil
}

func (c *Client) checkDownloadLimit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.downloadLimit > 0 && c.downloadRemaining <= 0 {
		return fmt.Errorf("download limit reached for %s", c.Name())
	}
	return nil
}

func (c *Client) Name() string {
	if c.name != "" {
		return c.name
	}
	return "Prowlarr"
}

func (c *Client) GetUsage() indexer.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return indexer.Usage{
		APIHitsLimit:       c.apiLimit,
		APIHitsUsed:        c.apiUsed,
		APIHitsRemaining:   c.apiRemaining,
		DownloadsLimit:     c.downloadLimit,
		DownloadsUsed:      c.downloadUsed,
		DownloadsRemaining: c.downloadRemaining,
	}
}

// NewClient builds a client for one Prowlarr-managed indexer ID.
func NewClient(baseURL string, indexerID int, apiKey, name string, um *indexer.UsageManager) (*Client, error) {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		indexerID:    indexerID,
		apiKey:       apiKey,
		name:         name,
		usageManager: um,
		client:       &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
	if um != nil && name != "" {
		usage := um.GetIndexerUsage(name)
		c.apiUsed = usage.APIHitsUsed
		c.downloadUsed = usage.DownloadsUsed
	}
	return c, nil
}

// Ping probes the per-indexer search endpoint; Prowlarr's caps endpoint is
// unreliable across indexer definitions, so a minimal search is used instead.
func (c *Client) Ping() error {
	apiURL := fmt.Sprintf("%s/%d/api?t=search&limit=1&apikey=%s", c.baseURL, c.indexerID, c.apiKey)
	req, err := http.NewRequest(http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Prowlarr returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Search(req indexer.SearchRequest) (*indexer.SearchResponse, error) {
	if err := c.checkAPILimit(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("o", "xml")
	switch req.Cat {
	case "2000":
		params.Set("t", "movie")
	case "5000":
		params.Set("t", "tvsearch")
	default:
		params.Set("t", "search")
	}
	if req.Query != "" {
		params.Set("q", req.Query)
	}
	if req.IMDbID != "" {
		params.Set("imdbid", strings.TrimPrefix(req.IMDbID, "tt"))
	}
	if req.TMDBID != "" {
		params.Set("tmdbid", req.TMDBID)
	}
	if req.TVDBID != "" {
		params.Set("tvdbid", req.TVDBID)
	}
	if req.Cat != "" {
		params.Set("cat", req.Cat)
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	} else {
		params.Set("limit", "100")
	}
	if req.Season != "" {
		params.Set("season", req.Season)
	}
	if req.Episode != "" {
		params.Set("ep", req.Episode)
	}

	apiURL := fmt.Sprintf("%s/%d/api?%s", c.baseURL, c.indexerID, params.Encode())
	logger.Debug("Prowlarr search", "indexer", c.Name(), "url", apiURL)

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query Prowlarr: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.apiUsed++
	if c.apiRemaining > 0 {
		c.apiRemaining--
	}
	c.mu.Unlock()
	c.updateUsageFromHeaders(resp.Header)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Prowlarr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Prowlarr returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("Prowlarr returned empty body")
	}

	var result indexer.SearchResponse
	if err := xml.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse Prowlarr response: %w", err)
	}
	for i := range result.Channel.Items {
		result.Channel.Items[i].SourceIndexer = c
	}
	return &result, nil
}

// fileFromNZBURL derives a safe filename for Prowlarr's file= download parameter.
func fileFromNZBURL(nzbURL string) string {
	parsed, err := url.Parse(nzbURL)
	if err != nil {
		return "download"
	}
	if id := parsed.Query().Get("id"); id != "" {
		var b strings.Builder
		for _, r := range id {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return "download"
}

// DownloadNZB fetches an NZB by URL. A direct-indexer link (not already a
// Prowlarr URL) is rewritten to Prowlarr's download endpoint so Prowlarr can
// attach the indexer's own API key.
func (c *Client) DownloadNZB(ctx context.Context, nzbURL string) ([]byte, error) {
	if err := c.checkDownloadLimit(); err != nil {
		logger.Warn("download limit reached", "indexer", c.Name())
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if parsed, err := url.Parse(nzbURL); err == nil {
		if baseParsed, err2 := url.Parse(c.baseURL); err2 == nil && baseParsed.Host != "" && parsed.Host != "" && parsed.Host != baseParsed.Host {
			params := url.Values{}
			params.Set("link", base64.StdEncoding.EncodeToString([]byte(nzbURL)))
			params.Set("file", fileFromNZBURL(nzbURL))
			params.Set("apikey", c.apiKey)
			nzbURL = fmt.Sprintf("%s/%d/download?%s", c.baseURL, c.indexerID, params.Encode())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nzbURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	logger.Debug("Prowlarr download", "url", nzbURL)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download NZB: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.apiUsed++
	c.downloadUsed++
	if c.apiRemaining > 0 {
		c.apiRemaining--
	}
	if c.downloadRemaining > 0 {
		c.downloadRemaining--
	}
	c.mu.Unlock()
	c.updateUsageFromHeaders(resp.Header)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read NZB data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyStr := string(data)
		if strings.Contains(bodyStr, "Failed to normalize provided link") {
			return nil, fmt.Errorf("Prowlarr rejected the download link: it only accepts links it generated; enable indexer redirect so search results carry Prowlarr proxy URLs")
		}
		if len(bodyStr) > 200 {
			bodyStr = bodyStr[:200] + "..."
		}
		return nil, fmt.Errorf("NZB download returned status %d: %s", resp.StatusCode, bodyStr)
	}
	return data, nil
}

func (c *Client) updateUsageFromHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := h.Get("X-RateLimit-Daily-Limit"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			c.apiLimit = limit
		}
	}
	if val := h.Get("X-RateLimit-Daily-Remaining"); val != "" {
		if remaining, err := strconv.Atoi(val); err == nil {
			c.apiRemaining = remaining
		}
	}
	if val := h.Get("X-DNZBLimit-Daily-Limit"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			c.downloadLimit = limit
		}
	}
	if val := h.Get("X-DNZBLimit-Daily-Remaining"); val != "" {
		if remaining, err := strconv.Atoi(val); err == nil {
			c.downloadRemaining = remaining
		}
	}

	if c.usageManager != nil {
		if c.apiLimit > 0 {
			c.apiUsed = c.apiLimit - c.apiRemaining
		}
		if c.downloadLimit > 0 {
			c.downloadUsed = c.downloadLimit - c.downloadRemaining
		}
		c.usageManager.UpdateUsage(c.name, c.apiUsed, c.downloadUsed)
	}
}
