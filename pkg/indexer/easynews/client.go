// Package easynews implements the Easynews proprietary search/download
// Indexer adapter: Solr-style JSON search plus a payload-token NZB builder
// in place of a real download URL.
package easynews

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nzbstream/nzbstream/pkg/indexer"
)

const (
	easynewsBaseURL   = "https://members.easynews.com"
	maxResultsPerPage = 250
	searchTimeout     = 15 * time.Second
	downloadTimeout   = 30 * time.Second
	minResultBytes    = 100 * 1024 * 1024 // default minimum size filter
)

// Client is an Easynews API client.
type Client struct {
	username     string
	password     string
	name         string
	http         *http.Client
	downloadBase string

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

// NewClient builds an Easynews client. Username and password are required.
func NewClient(username, password, name, downloadBase string, apiLimit, downloadLimit int, um *indexer.UsageManager) (*Client, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("easynews username and password are required")
	}
	c := &Client{
		username:          username,
		password:          password,
		name:              name,
		downloadBase:      downloadBase,
		usageManager:      um,
		apiLimit:          apiLimit,
		apiRemaining:      apiLimit,
		downloadLimit:     downloadLimit,
		downloadRemaining: downloadLimit,
		http: &http.Client{
			Timeout: searchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				MaxConnsPerHost:     100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if um != nil && name != "" {
		usage := um.GetIndexerUsage(name)
		c.apiUsed = usage.APIHitsUsed
		c.downloadUsed = usage.DownloadsUsed
		c.apiRemaining = apiLimit - usage.APIHitsUsed
		c.downloadRemaining = downloadLimit - usage.DownloadsUsed
		if c.apiRemaining < 0 && apiLimit > 0 {
			c.apiRemaining = 0
		}
		if c.downloadRemaining < 0 && downloadLimit > 0 {
			c.downloadRemaining = 0
		}
	}
	return c, nil
}

func (c *Client) Name() string {
	if c.name != "" {
		return c.name
	}
	return "Easynews"
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

func (c *Client) Ping() error {
	if _, err := c.searchInternal("dune", "", "", "", false); err != nil {
		return fmt.Errorf("easynews credentials invalid: %w", err)
	}
	return nil
}

// sanitizeQuery collapses punctuation and spells out ampersands, per the
// Easynews adapter's query-sanitization contract.
func sanitizeQuery(q string) string {
	q = strings.ReplaceAll(q, "&", " and ")
	q = punctuationRe.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(q), " ")
}

var punctuationRe = regexp.MustCompile(`[._:'"!,]+`)

func (c *Client) Search(req indexer.SearchRequest) (*indexer.SearchResponse, error) {
	if err := c.checkAPILimit(); err != nil {
		return nil, err
	}

	query := sanitizeQuery(req.Query)
	if req.IMDbID != "" {
		query = fmt.Sprintf("%s %s", query, strings.TrimPrefix(req.IMDbID, "tt"))
	}
	if req.TMDBID != "" {
		query = fmt.Sprintf("%s %s", query, req.TMDBID)
	}

	strict := req.Query != "" && (req.Cat == "2000" || req.Cat == "5000")
	results, err := c.searchInternal(query, req.Season, req.Episode, req.Cat, strict)
	if err != nil {
		return nil, fmt.Errorf("easynews search failed: %w", err)
	}

	c.mu.Lock()
	c.apiUsed++
	if c.apiRemaining > 0 {
		c.apiRemaining--
	}
	c.mu.Unlock()
	if c.usageManager != nil && c.name != "" {
		c.usageManager.IncrementUsed(c.name, 1, 0)
	}

	items := make([]indexer.Item, 0, len(results))
	for _, r := range results {
		items = append(items, indexer.Item{
			Title:         r.Title,
			Link:          r.DownloadURL,
			GUID:          r.GUID,
			PubDate:       r.PubDate,
			Size:          r.Size,
			SourceIndexer: c,
		})
	}
	return &indexer.SearchResponse{Channel: indexer.Channel{Items: items}}, nil
}

// DownloadNZB reconstructs the Easynews form-post NZB request from the
// payload token embedded in our proxy URL.
func (c *Client) DownloadNZB(ctx context.Context, nzbURL string) ([]byte, error) {
	if err := c.checkDownloadLimit(); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(nzbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid NZB URL: %w", err)
	}
	token := parsed.Query().Get("payload")
	if token == "" {
		return nil, fmt.Errorf("missing payload token in URL")
	}
	payload, err := decodePayload(token)
	if err != nil {
		return nil, fmt.Errorf("invalid payload token: %w", err)
	}

	data, err := c.downloadNZBInternal(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to download NZB: %w", err)
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
	if c.usageManager != nil && c.name != "" {
		c.usageManager.IncrementUsed(c.name, 1, 1)
	}
	return data, nil
}

func (c *Client) searchInternal(query, season, episode, category string, strictMode bool) ([]easynewsResult, error) {
	params := url.Values{}
	params.Set("fly", "2")
	params.Set("sb", "1")
	params.Set("pno", "1")
	params.Set("pby", strconv.Itoa(maxResultsPerPage))
	params.Set("u", "1")
	params.Set("chxu", "1")
	params.Set("chxgx", "1")
	params.Set("st", "basic")
	params.Set("gps", query)
	params.Set("vv", "1")
	params.Set("safeO", "0")
	params.Set("s1", "relevance")
	params.Set("s1d", "-")
	params.Add("fty[]", "VIDEO")

	if category == "5000" && season != "" && episode != "" {
		params.Set("gps", fmt.Sprintf("%s S%sE%s", query, season, episode))
	}

	searchURL := fmt.Sprintf("%s/2.0/search/solr-search/?%s", easynewsBaseURL, params.Encode())

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", "nzbstream-easynews/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("easynews search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("easynews rejected credentials")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("easynews search failed with status %d: %s", resp.StatusCode, string(body))
	}

	var data easynewsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse easynews response: %w", err)
	}
	return c.filterAndMapResults(data, query, strictMode), nil
}

func (c *Client) downloadNZBInternal(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	hash, _ := payload["hash"].(string)
	filename, _ := payload["filename"].(string)
	ext, _ := payload["ext"].(string)
	sig, _ := payload["sig"].(string)
	title, _ := payload["title"].(string)
	if hash == "" {
		return nil, fmt.Errorf("missing hash in payload")
	}

	form := url.Values{}
	for key, value := range buildNZBPayload([]easynewsItem{{Hash: hash, Filename: filename, Ext: ext, Sig: sig}}, title) {
		form.Set(key, value)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, easynewsBaseURL+"/2.0/api/dl-nzb", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "nzbstream-easynews/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("easynews NZB download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("easynews NZB download failed with status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
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

type easynewsSearchResponse struct {
	Data  []interface{} `json:"data"`
	Total int           `json:"total"`
}

type easynewsResult struct {
	Title       string
	DownloadURL string
	GUID        string
	PubDate     string
	Size        int64
}

type easynewsItem struct {
	Hash     string
	Filename string
	Ext      string
	Sig      string
	Size     int64
	Subject  string
	Posted   string
	Duration interface{}
}

var disallowedExts = map[string]bool{".rar": true, ".zip": true, ".exe": true, ".jpg": true, ".png": true}
var allowedVideoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".m4v": true, ".avi": true, ".ts": true,
	".mov": true, ".wmv": true, ".mpg": true, ".mpeg": true, ".flv": true, ".webm": true,
}

// filterAndMapResults parses Easynews's array-or-object entry shape,
// applies the extension/duration/size/sample filters and, in strict mode,
// requires the sanitized query to appear as a contiguous token run in the title.
func (c *Client) filterAndMapResults(data easynewsSearchResponse, query string, strictMode bool) []easynewsResult {
	queryTokens := strings.Fields(strings.ToLower(query))
	results := make([]easynewsResult, 0, len(data.Data))

	for _, entry := range data.Data {
		item := parseEasynewsEntry(entry)
		if item.Hash == "" {
			continue
		}

		extLower := strings.ToLower(item.Ext)
		if extLower != "" && !strings.HasPrefix(extLower, ".") {
			extLower = "." + extLower
		}
		if disallowedExts[extLower] {
			continue
		}
		if extLower != "" && !allowedVideoExts[extLower] {
			continue
		}
		if d := parseDuration(item.Duration); d != nil && *d < 60 {
			continue
		}
		if item.Size > 0 && item.Size < minResultBytes {
			continue
		}

		title := buildDisplayTitle(item)
		if strings.Contains(strings.ToLower(title), "sample") {
			continue
		}
		if strictMode && len(queryTokens) > 0 && !containsTokenRun(strings.ToLower(title), queryTokens) {
			continue
		}

		payload := map[string]interface{}{
			"hash": item.Hash, "filename": item.Filename, "ext": item.Ext, "sig": item.Sig, "title": title,
		}
		downloadURL := fmt.Sprintf("%s/easynews/nzb?payload=%s", c.downloadBase, url.QueryEscape(encodePayload(payload)))

		pubDate := time.Now().Format(time.RFC1123Z)
		if item.Posted != "" {
			if t, err := time.Parse("2006-01-02 15:04:05", item.Posted); err == nil {
				pubDate = t.Format(time.RFC1123Z)
			}
		}

		results = append(results, easynewsResult{
			Title:       title,
			DownloadURL: downloadURL,
			GUID:        fmt.Sprintf("easynews-%s", item.Hash),
			PubDate:     pubDate,
			Size:        item.Size,
		})
	}
	return results
}

// containsTokenRun reports whether tokens appears as a contiguous run
// within the whitespace-split words of haystack.
func containsTokenRun(haystack string, tokens []string) bool {
	words := strings.Fields(haystack)
	if len(tokens) > len(words) {
		return false
	}
	for i := 0; i+len(tokens) <= len(words); i++ {
		match := true
		for j, t := range tokens {
			if words[i+j] != t {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func buildDisplayTitle(item easynewsItem) string {
	title := item.Filename
	if item.Ext != "" {
		if strings.HasPrefix(item.Ext, ".") {
			title += item.Ext
		} else {
			title += "." + item.Ext
		}
	}
	if title == "" {
		title = item.Subject
	}
	if title == "" && len(item.Hash) > 0 {
		title = fmt.Sprintf("Easynews-%s", item.Hash[:min(8, len(item.Hash))])
	}
	return title
}

// parseEasynewsEntry decodes one Data entry, which Easynews encodes either
// as a fixed-position array or as an object, depending on API mode.
func parseEasynewsEntry(entry interface{}) easynewsItem {
	var item easynewsItem
	switch v := entry.(type) {
	case []interface{}:
		if len(v) < 12 {
			return item
		}
		if s, ok := v[0].(string); ok {
			item.Hash = s
		}
		if s, ok := v[6].(string); ok {
			item.Subject = s
		}
		if s, ok := v[7].(string); ok {
			_ = s // poster, unused
		}
		if s, ok := v[8].(string); ok {
			item.Posted = s
		}
		if s, ok := v[10].(string); ok {
			item.Filename = s
		}
		if s, ok := v[11].(string); ok {
			item.Ext = s
		}
		if len(v) > 12 {
			item.Size = toInt64(v[12])
		}
		if len(v) > 14 {
			item.Duration = v[14]
		}
	case map[string]interface{}:
		if s, ok := v["hash"].(string); ok {
			item.Hash = s
		}
		if s, ok := v["subject"].(string); ok {
			item.Subject = s
		}
		if s, ok := v["filename"].(string); ok {
			item.Filename = s
		}
		if s, ok := v["ext"].(string); ok {
			item.Ext = s
		}
		if s, ok := v["sig"].(string); ok {
			item.Sig = s
		}
		if s, ok := v["posted"].(string); ok {
			item.Posted = s
		}
		item.Size = toInt64(v["size"])
		item.Duration = v["duration"]
	}
	return item
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func parseDuration(raw interface{}) *int64 {
	if raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		sec := int64(v)
		if sec > 0 {
			return &sec
		}
	case int64:
		if v > 0 {
			return &v
		}
	case int:
		sec := int64(v)
		if sec > 0 {
			return &sec
		}
	case string:
		if num, err := strconv.ParseInt(v, 10, 64); err == nil && num > 0 {
			return &num
		}
		if parts := strings.Split(v, ":"); len(parts) == 3 {
			h, _ := strconv.Atoi(parts[0])
			m, _ := strconv.Atoi(parts[1])
			s, _ := strconv.Atoi(parts[2])
			total := int64(h*3600 + m*60 + s)
			if total > 0 {
				return &total
			}
		} else if len(parts) == 2 {
			m, _ := strconv.Atoi(parts[0])
			s, _ := strconv.Atoi(parts[1])
			total := int64(m*60 + s)
			if total > 0 {
				return &total
			}
		}
	}
	return nil
}

func encodePayload(payload map[string]interface{}) string {
	jsonData, _ := json.Marshal(payload)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(jsonData), "=")
}

func decodePayload(token string) (map[string]interface{}, error) {
	padLen := (4 - len(token)%4) % 4
	token += strings.Repeat("=", padLen)
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func buildNZBPayload(items []easynewsItem, name string) map[string]string {
	result := map[string]string{"autoNZB": "1"}
	for i, item := range items {
		key := strconv.Itoa(i)
		if item.Sig != "" {
			key = fmt.Sprintf("%d&sig=%s", i, item.Sig)
		}
		result[key] = buildValueToken(item)
	}
	if name != "" {
		result["nameZipQ0"] = name
	}
	return result
}

func buildValueToken(item easynewsItem) string {
	fnB64 := base64.URLEncoding.EncodeToString([]byte(item.Filename))
	extB64 := base64.URLEncoding.EncodeToString([]byte(item.Ext))
	return fmt.Sprintf("%s|%s:%s", item.Hash, fnB64, extB64)
}
