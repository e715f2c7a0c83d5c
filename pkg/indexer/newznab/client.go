// Package newznab implements the direct-endpoint Indexer client: one HTTP
// GET per search against a Newznab-dialect RSS API.
package newznab

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

	"github.com/cenkalti/backoff/v4"

	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/indexer"
	"github.com/nzbstream/nzbstream/pkg/logger"
)

// Client is a Newznab API client bound to a single indexer endpoint.
type Client struct {
	baseURL string
	apiPath string
	apiKey  string
	name    string
	http    *http.Client

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

// APIError is a Newznab XML `<error>` payload.
type APIError struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

func (c *Client) Name() string {
	if c.name != "" {
		return c.name
	}
	return "Newznab"
}

func (c *Client) GetUsage() indexer.Usage {
	c.mu.RLock()
	u := indexer.Usage{
		APIHitsLimit:       c.apiLimit,
		APIHitsUsed:        c.apiUsed,
		APIHitsRemaining:   c.apiRemaining,
		DownloadsLimit:     c.downloadLimit,
		DownloadsUsed:      c.downloadUsed,
		DownloadsRemaining: c.downloadRemaining,
	}
	c.mu.RUnlock()
	if c.usageManager != nil {
		ud := c.usageManager.GetIndexerUsage(c.name)
		u.AllTimeAPIHitsUsed = ud.AllTimeAPIHitsUsed
		u.AllTimeDownloadsUsed = ud.AllTimeDownloadsUsed
	}
	return u
}

// NewClient builds a client for one configured direct indexer slot.
func NewClient(cfg config.IndexerConfig, um *indexer.UsageManager) *Client {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}

	apiPath := cfg.APIPath
	if apiPath == "" {
		apiPath = "/api"
	}
	if !strings.HasPrefix(apiPath, "/") {
		apiPath = "/" + apiPath
	}

	c := &Client{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		apiPath:      apiPath,
		apiKey:       cfg.APIKey,
		http:         &http.Client{Timeout: 30 * time.Second, Transport: transport},
		usageManager: um,
	}

	if um != nil {
		usage := um.GetIndexerUsage(cfg.Name)
		c.apiUsed = usage.APIHitsUsed
		c.downloadUsed = usage.DownloadsUsed
	}
	return c
}

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

func (c *Client) updateUsageFromHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := h.Get("X-RateLimit-Daily-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.apiLimit = n
		}
	}
	if v := h.Get("X-RateLimit-Daily-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.apiRemaining = n
		}
	}
	if v := h.Get("X-DNZBLimit-Daily-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.downloadLimit = n
		}
	}
	if v := h.Get("X-DNZBLimit-Daily-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.downloadRemaining = n
		}
	}
	if v := h.Get("x-api-remaining"); v != "" && h.Get("X-RateLimit-Daily-Remaining") == "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.apiRemaining = n
		}
	}
	if v := h.Get("x-grab-remaining"); v != "" && h.Get("X-DNZBLimit-Daily-Remaining") == "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.downloadRemaining = n
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

func (c *Client) Ping() error {
	apiURL := fmt.Sprintf("%s%s?t=caps&apikey=%s", c.baseURL, c.apiPath, c.apiKey)
	resp, err := c.http.Get(apiURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s indexer returned status %d", c.Name(), resp.StatusCode)
	}
	return nil
}

func (c *Client) checkNewznabError(body []byte) error {
	var apiErr APIError
	if err := xml.Unmarshal(body, &apiErr); err == nil && apiErr.Description != "" {
		switch {
		case apiErr.Code >= 100 && apiErr.Code <= 199:
			return fmt.Errorf("%s authentication error (code %d): %s", c.Name(), apiErr.Code, apiErr.Description)
		case apiErr.Code == 201:
			return fmt.Errorf("%s request limit reached (code %d): %s", c.Name(), apiErr.Code, apiErr.Description)
		case apiErr.Code >= 200 && apiErr.Code <= 299:
			return fmt.Errorf("%s request error (code %d): %s", c.Name(), apiErr.Code, apiErr.Description)
		case apiErr.Code >= 300:
			return fmt.Errorf("%s server error (code %d): %s", c.Name(), apiErr.Code, apiErr.Description)
		}
	}
	return nil
}

// isTransientStatus reports whether an HTTP status is retryable per the
// transient-error taxonomy (429 and 5xx).
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryPolicy returns exponential backoff with +/-30% jitter, capped at two
// retries (three attempts total).
func retryPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.3
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, 2)
}

// Search issues one GET against the endpoint's Newznab API and normalizes
// the XML response, retrying transient failures up to twice.
func (c *Client) Search(req indexer.SearchRequest) (*indexer.SearchResponse, error) {
	if err := c.checkAPILimit(); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("o", "xml")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")

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
	if req.Season != "" {
		params.Set("season", req.Season)
	}
	if req.Episode != "" {
		params.Set("ep", req.Episode)
	}

	apiURL := fmt.Sprintf("%s%s?%s", c.baseURL, c.apiPath, params.Encode())
	logger.Debug("newznab search", "indexer", c.Name(), "url", apiURL, "limit", limit)

	var bodyBytes []byte
	var statusCode int
	op := func() error {
		httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err // network error, retryable
		}
		defer resp.Body.Close()
		statusCode = resp.StatusCode

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		bodyBytes = body

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("%s auth failed: status %d", c.Name(), resp.StatusCode))
		}
		if isTransientStatus(resp.StatusCode) {
			return fmt.Errorf("%s transient status %d", c.Name(), resp.StatusCode)
		}
		return nil
	}

	if err := backoff.Retry(op, retryPolicy()); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.apiUsed++
	if c.apiRemaining > 0 {
		c.apiRemaining--
	}
	c.mu.Unlock()
	c.updateUsageFromHeaders(http.Header{})

	if statusCode != http.StatusOK {
		if err := c.checkNewznabError(bodyBytes); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s returned status %d", c.Name(), statusCode)
	}
	if err := c.checkNewznabError(bodyBytes); err != nil {
		return nil, err
	}

	var result indexer.SearchResponse
	if err := xml.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", c.Name(), err)
	}

	for i := range result.Channel.Items {
		item := &result.Channel.Items[i]
		item.SourceIndexer = c
		if item.Size <= 0 {
			if item.Enclosure.Length > 0 {
				item.Size = item.Enclosure.Length
			} else if sizeAttr := item.GetAttribute("size"); sizeAttr != "" {
				fmt.Sscanf(sizeAttr, "%d", &item.Size)
			}
		}
	}
	if len(result.Channel.Items) > limit {
		result.Channel.Items = result.Channel.Items[:limit]
	}
	return &result, nil
}

// DownloadNZB fetches the raw NZB body, retrying transient failures.
func (c *Client) DownloadNZB(ctx context.Context, nzbURL string) ([]byte, error) {
	if err := c.checkDownloadLimit(); err != nil {
		logger.Warn("download limit reached", "indexer", c.Name())
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var data []byte
	var statusCode int
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, nzbURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		statusCode = resp.StatusCode
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("%s NZB download auth failed: status %d", c.Name(), resp.StatusCode))
		}
		if isTransientStatus(resp.StatusCode) {
			return fmt.Errorf("%s NZB download transient status %d", c.Name(), resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		data = b
		return nil
	}
	if err := backoff.Retry(op, retryPolicy()); err != nil {
		return nil, err
	}

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
	c.updateUsageFromHeaders(http.Header{})

	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("%s NZB download returned status %d", c.Name(), statusCode)
	}
	return data, nil
}
