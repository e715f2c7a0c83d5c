// Package nzbhydra implements the indexer.Indexer client for one NZBHydra2
// meta-indexer instance, queried in its aggregated mode (no per-indexer
// filter) so a single Newznab request fans out to every indexer NZBHydra2
// has configured.
package nzbhydra

import (
	"context"
	"crypto/tls"
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

// rateLimits tracks the daily API-hit and download quotas NZBHydra2 reports
// back over X-RateLimit-*/X-DNZBLimit-* response headers, mirroring them
// into the shared indexer.UsageManager for the admin usage view.
type rateLimits struct {
	mu sync.RWMutex

	apiLimit, apiUsed, apiRemaining          int
	downloadLimit, downloadUsed, downloadRem int
}

func (r *rateLimits) checkAPI(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.apiLimit > 0 && r.apiRemaining <= 0 {
		return fmt.Errorf("API limit reached for %s", name)
	}
	return nil
}

func (r *rateLimits) checkDownload(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.downloadLimit > 0 && r.downloadRem <= 0 {
		return fmt.Errorf("download limit reached for %s", name)
	}
	return nil
}

func (r *rateLimits) recordAPIHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiUsed++
	if r.apiRemaining > 0 {
		r.apiRemaining--
	}
}

func (r *rateLimits) recordDownload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiUsed++ // a download also counts as an API hit against most indexers
	r.downloadUsed++
	if r.apiRemaining > 0 {
		r.apiRemaining--
	}
	if r.downloadRem > 0 {
		r.downloadRem--
	}
}

// applyHeaders absorbs NZBHydra2's reported limit/remaining pair for both
// quotas; an absent header leaves the previous value untouched.
func (r *rateLimits) applyHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := atoiHeader(h, "X-RateLimit-Daily-Limit"); ok {
		r.apiLimit = v
	}
	if v, ok := atoiHeader(h, "X-RateLimit-Daily-Remaining"); ok {
		r.apiRemaining = v
	}
	if v, ok := atoiHeader(h, "X-DNZBLimit-Daily-Limit"); ok {
		r.downloadLimit = v
	}
	if v, ok := atoiHeader(h, "X-DNZBLimit-Daily-Remaining"); ok {
		r.downloadRem = v
	}
	if r.apiLimit > 0 {
		r.apiUsed = r.apiLimit - r.apiRemaining
	}
	if r.downloadLimit > 0 {
		r.downloadUsed = r.downloadLimit - r.downloadRem
	}
}

func (r *rateLimits) snapshot() indexer.Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return indexer.Usage{
		APIHitsLimit:       r.apiLimit,
		APIHitsUsed:        r.apiUsed,
		APIHitsRemaining:   r.apiRemaining,
		DownloadsLimit:     r.downloadLimit,
		DownloadsUsed:      r.downloadUsed,
		DownloadsRemaining: r.downloadRem,
	}
}

func atoiHeader(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// Client queries one NZBHydra2 instance via its Newznab-compatible /api
// endpoint, aggregated across every indexer NZBHydra2 has configured.
type Client struct {
	baseURL string
	apiKey  string
	name    string
	http    *http.Client

	limits       rateLimits
	usageManager *indexer.UsageManager
}

var _ indexer.Indexer = (*Client)(nil)

// APIError is the XML error envelope NZBHydra2's Newznab endpoint returns
// on auth/config failures instead of a search result feed.
type APIError struct {
	XMLName     xml.Name `xml:"error"`
	Code        string   `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// NewClient builds an aggregated NZBHydra2 client and verifies connectivity
// with a capabilities probe before returning.
func NewClient(baseURL, apiKey, name string, um *indexer.UsageManager) (*Client, error) {
	transport := &http.Transport{
		// NZBHydra2 is commonly self-hosted behind a self-signed cert.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		name:         name,
		usageManager: um,
		http:         &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}

	if um != nil && name != "" {
		usage := um.GetIndexerUsage(name)
		c.limits.apiUsed = usage.APIHitsUsed
		c.limits.downloadUsed = usage.DownloadsUsed
	}

	if err := c.ping(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ping() error {
	apiURL := fmt.Sprintf("%s/api?t=caps&apikey=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("nzbhydra2: invalid API key")
	}

	body, _ := io.ReadAll(resp.Body)
	var apiErr APIError
	if err := xml.Unmarshal(body, &apiErr); err == nil && apiErr.Description != "" {
		return fmt.Errorf("nzbhydra2: %s", apiErr.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nzbhydra2: caps probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Name is the display name shown in stream titles and the admin usage view.
func (c *Client) Name() string {
	if c.name != "" {
		return c.name
	}
	return "NZBHydra2"
}

// GetUsage reports the current API/download quota snapshot.
func (c *Client) GetUsage() indexer.Usage { return c.limits.snapshot() }

// Search queries NZBHydra2's aggregated Newznab endpoint and resolves each
// result's real per-indexer GUID via the internal search API, since the
// public Newznab feed only exposes NZBHydra2's own synthetic hash.
func (c *Client) Search(req indexer.SearchRequest) (*indexer.SearchResponse, error) {
	if err := c.limits.checkAPI(c.Name()); err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/api?%s", c.baseURL, c.searchParams(req).Encode())
	logger.Debug("nzbhydra2 search", "url", apiURL)

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 search: %w", err)
	}
	defer resp.Body.Close()

	c.limits.recordAPIHit()
	c.applyUsageHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nzbhydra2 search: status %d: %s", resp.StatusCode, string(body))
	}

	var result indexer.SearchResponse
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("nzbhydra2 search decode: %w", err)
	}

	for i := range result.Channel.Items {
		item := &result.Channel.Items[i]
		item.SourceIndexer = c
		if name := item.GetAttribute("indexer"); name != "" {
			item.ActualIndexer = name
		} else if name := item.GetAttribute("hydraIndexerName"); name != "" {
			item.ActualIndexer = name
		}
	}

	if links, err := c.ResolveDetailsLinks(req); err != nil {
		logger.Debug("nzbhydra2 details resolution unavailable, falling back to hash GUIDs", "err", err)
	} else {
		for i := range result.Channel.Items {
			if link, ok := links[result.Channel.Items[i].GUID]; ok {
				result.Channel.Items[i].ActualGUID = link
			}
		}
	}

	return &result, nil
}

func (c *Client) searchParams(req indexer.SearchRequest) url.Values {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("o", "xml")
	params.Set("t", determineSearchType(req))

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
		params.Set("limit", "10")
	}
	if req.Season != "" {
		params.Set("season", req.Season)
	}
	if req.Episode != "" {
		params.Set("ep", req.Episode)
	}
	return params
}

// DownloadNZB fetches an NZB file by its (possibly details-link-resolved)
// download URL.
func (c *Client) DownloadNZB(ctx context.Context, nzbURL string) ([]byte, error) {
	if err := c.limits.checkDownload(c.Name()); err != nil {
		logger.Warn("nzbhydra2 download limit reached", "indexer", c.Name())
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nzbURL, nil)
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 download: %w", err)
	}
	defer resp.Body.Close()

	c.limits.recordDownload()
	c.applyUsageHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nzbhydra2 download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nzbhydra2 download read: %w", err)
	}
	return data, nil
}

func (c *Client) applyUsageHeaders(h http.Header) {
	c.limits.applyHeaders(h)
	if c.usageManager != nil {
		usage := c.limits.snapshot()
		c.usageManager.UpdateUsage(c.name, usage.APIHitsUsed, usage.DownloadsUsed)
	}
}
