// Package tvdb resolves TheTVDB series IDs from the external identifiers
// Stremio and TMDB hand the addon, caching the bearer token issued by
// TheTVDB's own login endpoint across restarts.
package tvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/persistence"
)

const (
	baseURL  = "https://api4.thetvdb.com/v4"
	stateKey = "tvdb_token"

	// tokenValidFor is conservative against TheTVDB's documented ~1 month
	// token lifetime, refreshing well before expiry rather than reacting to
	// the first 401.
	tokenValidFor = 25 * 24 * time.Hour
)

// Client resolves TVDB IDs via TheTVDB API v4.
type Client struct {
	apiKey  string
	dataDir string
	http    *http.Client

	cachedToken string
}

// NewClient builds a TVDB client; dataDir is where the bearer token
// persists across restarts (see persistence.StateManager).
func NewClient(apiKey, dataDir string) *Client {
	return &Client{
		apiKey:  apiKey,
		dataDir: dataDir,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		Token string `json:"token"`
	} `json:"data"`
}

type searchRemoteIDResponse struct {
	Status string `json:"status"`
	Data   []struct {
		Episode *struct {
			SeriesID int `json:"seriesId"`
		} `json:"episode"`
		Movie *struct {
			ID int `json:"id"`
		} `json:"movie"`
		Series *struct {
			ID int `json:"id"`
		} `json:"series"`
	} `json:"data"`
}

type tokenState struct {
	Token     string `json:"token"`
	CreatedAt string `json:"created_at"` // RFC3339
}

// token returns a valid bearer token, preferring the in-memory cache, then
// a still-fresh token persisted in state.json, and logging in only as a
// last resort.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("TVDB API key not configured")
	}
	if c.cachedToken != "" {
		return c.cachedToken, nil
	}

	manager, err := persistence.GetManager(c.dataDir)
	if err != nil {
		return "", fmt.Errorf("tvdb state manager: %w", err)
	}

	var stored tokenState
	if found, _ := manager.Get(stateKey, &stored); found && stored.Token != "" {
		if created, err := time.Parse(time.RFC3339, stored.CreatedAt); err == nil {
			if age := time.Since(created); age < tokenValidFor {
				c.cachedToken = stored.Token
				return c.cachedToken, nil
			} else {
				logger.Debug("TVDB token expired, refreshing", "age_days", int(age.Hours()/24))
			}
		}
	}

	token, err := c.loginWithRetry(ctx)
	if err != nil {
		return "", err
	}

	state := tokenState{Token: token, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	if err := manager.Set(stateKey, state); err != nil {
		logger.Warn("failed to persist TVDB token", "err", err)
	}
	c.cachedToken = token
	return token, nil
}

// loginWithRetry retries transient login failures (network blips, TVDB's
// own backend 5xxs) with capped exponential backoff rather than failing the
// whole resolve on a single bad request.
func (c *Client) loginWithRetry(ctx context.Context) (string, error) {
	var token string
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		t, err := c.login(ctx)
		if err != nil {
			return err
		}
		token = t
		return nil
	}, backoff.WithContext(policy, ctx))
	return token, err
}

func (c *Client) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"apikey": c.apiKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tvdb login: status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tvdb login decode: %w", err)
	}
	if out.Status != "success" || out.Data.Token == "" {
		return "", fmt.Errorf("tvdb login: status=%s", out.Status)
	}
	logger.Debug("tvdb login succeeded")
	return out.Data.Token, nil
}

// get issues an authenticated GET, retrying once with a fresh token if the
// cached one was rejected.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.doAuthed(ctx, path, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	c.cachedToken = ""

	tok, err = c.token(ctx)
	if err != nil {
		return nil, err
	}
	return c.doAuthed(ctx, path, tok)
}

func (c *Client) doAuthed(ctx context.Context, path, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// ResolveTVDBID looks up the TVDB series ID for an external identifier
// (IMDb ID or TMDB ID) via GET /search/remoteid/{remoteId}.
func (c *Client) ResolveTVDBID(remoteID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := c.get(ctx, "/search/remoteid/"+remoteID)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tvdb search/remoteid: status %d", resp.StatusCode)
	}

	var out searchRemoteIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tvdb search/remoteid decode: %w", err)
	}
	if out.Status != "success" {
		return "", fmt.Errorf("tvdb search/remoteid: status=%s", out.Status)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("no TVDB result for remote ID %q", remoteID)
	}

	for _, item := range out.Data {
		switch {
		case item.Episode != nil && item.Episode.SeriesID != 0:
			return strconv.Itoa(item.Episode.SeriesID), nil
		case item.Series != nil && item.Series.ID != 0:
			return strconv.Itoa(item.Series.ID), nil
		case item.Movie != nil && item.Movie.ID != 0:
			return strconv.Itoa(item.Movie.ID), nil
		}
	}
	return "", fmt.Errorf("no TVDB ID in result set for remote ID %q", remoteID)
}
