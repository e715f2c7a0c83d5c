// Package mount implements the Stream Proxy's downstream half (§4.10): a
// client for the NZBDav-like mount service (addurl/addfile/history), a
// WebDAV directory walker that locates the playable video once a job
// completes, and the ranged HTTP proxy that serves it back to the player.
package mount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nzbstream/nzbstream/pkg/config"
	"github.com/nzbstream/nzbstream/pkg/logger"
)

// pollInterval is how often History is polled while waiting for a job to
// settle (§4.10: "~2 s intervals").
const pollInterval = 2 * time.Second

// waitTimeout bounds the total time WaitForCompletion will poll before
// giving up (§4.10: "~80 s timeout").
const waitTimeout = 80 * time.Second

// Client talks to the NZBDav-like mount service's query API and WebDAV
// surface.
type Client struct {
	BaseURL      string
	APIKey       string
	WebDAVURL    string
	WebDAVUser   string
	WebDAVPass   string
	CategoryMovies string
	CategorySeries string
	HTTP         *http.Client
}

// NewClient builds a mount-service client from the effective configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:        strings.TrimSuffix(cfg.NZBDavURL, "/"),
		APIKey:         cfg.NZBDavAPIKey,
		WebDAVURL:      strings.TrimSuffix(cfg.NZBDavWebDAVURL, "/"),
		WebDAVUser:     cfg.NZBDavWebDAVUser,
		WebDAVPass:     cfg.NZBDavWebDAVPass,
		CategoryMovies: cfg.NZBDavCategoryMovies,
		CategorySeries: cfg.NZBDavCategorySeries,
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	}
}

// addResponse is the mount service's response shape for both addurl and
// addfile.
type addResponse struct {
	Status bool   `json:"status"`
	NzoID  string `json:"nzo_id"`
	Error  string `json:"error,omitempty"`
}

// AddURL submits a download URL to the mount service's queue (mode=addurl)
// and returns the resulting job id.
func (c *Client) AddURL(ctx context.Context, downloadURL, category string) (string, error) {
	q := url.Values{}
	q.Set("mode", "addurl")
	q.Set("name", downloadURL)
	q.Set("cat", category)
	q.Set("apikey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	return c.doAdd(req, "addurl")
}

// AddFile uploads an already-verified NZB body directly to the mount
// service as a multipart form (mode=addfile), preferred over AddURL when
// the orchestrator already holds the bytes from the Verified-NZB cache
// (§4.10).
func (c *Client) AddFile(ctx context.Context, filename string, nzbBody []byte, category string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("mode", "addfile"); err != nil {
		return "", err
	}
	if err := w.WriteField("cat", category); err != nil {
		return "", err
	}
	if err := w.WriteField("apikey", c.APIKey); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("name", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(nzbBody); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.doAdd(req, "addfile")
}

func (c *Client) doAdd(req *http.Request, mode string) (string, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("mount %s request: %w", mode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("mount %s: upstream status %d", mode, resp.StatusCode)
	}

	var parsed addResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("mount %s: decode response: %w", mode, err)
	}
	if !parsed.Status {
		return "", fmt.Errorf("mount %s rejected: %s", mode, parsed.Error)
	}
	return parsed.NzoID, nil
}

// HistoryStatus is one job's state as reported by mode=history.
type HistoryStatus struct {
	NzoID    string `json:"nzo_id"`
	Name     string `json:"name"`
	Status   string `json:"status"` // "queued", "downloading", "completed", "failed"
	Category string `json:"category"`
	FailMsg  string `json:"fail_message,omitempty"`
}

type historyResponse struct {
	History struct {
		Slots []HistoryStatus `json:"slots"`
	} `json:"history"`
}

// History fetches the current state of a single job by id.
func (c *Client) History(ctx context.Context, nzoID string) (*HistoryStatus, error) {
	q := url.Values{}
	q.Set("mode", "history")
	q.Set("nzo_ids", nzoID)
	q.Set("apikey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mount history request: %w", err)
	}
	defer resp.Body.Close()

	var parsed historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("mount history: decode response: %w", err)
	}
	for i := range parsed.History.Slots {
		if parsed.History.Slots[i].NzoID == nzoID {
			return &parsed.History.Slots[i], nil
		}
	}
	return nil, fmt.Errorf("mount history: job %s not found", nzoID)
}

// WaitForCompletion polls History at pollInterval until the job reaches
// "completed" or "failed", or waitTimeout elapses.
func (c *Client) WaitForCompletion(ctx context.Context, nzoID string) (*HistoryStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.History(ctx, nzoID)
		if err == nil {
			switch status.Status {
			case "completed", "failed":
				return status, nil
			}
		} else {
			logger.Debug("mount history poll error, retrying", "nzo_id", nzoID, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mount job %s did not settle within %s: %w", nzoID, waitTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CategoryFor returns the configured mount-service category for a request
// type ("movie" or "series").
func (c *Client) CategoryFor(requestType string) string {
	if requestType == "series" {
		return c.CategorySeries
	}
	return c.CategoryMovies
}
