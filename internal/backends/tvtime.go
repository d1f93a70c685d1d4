// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/cache"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/metrics"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// TV Time has no public API; the mobile/web app talks to several upstream
// services through a single "sidecar" proxy endpoint. The upstream target is
// passed in the o query parameter:
//
//	login:    POST sidecar?o=https://auth.tvtime.com/v1/login
//	episode:  POST sidecar?o=https://api2.tozelabs.com/v2/watched_episodes/episode/{tvdb}
//	search:   GET  sidecar?o=https://search.tvtime.com/v1/search/series,movie
//	movie:    POST sidecar?o=https://msapi.tvtime.com/prod/v1/tracking/{uuid}/watch
//
// Episodes are addressed directly by TVDB ID. Movies must first be resolved
// to a TV Time UUID through search, trying each known provider ID and then
// the title.
const (
	tvtimeDefaultBaseURL = "https://app.tvtime.com"

	tvtimeLoginTarget   = "https://auth.tvtime.com/v1/login"
	tvtimeEpisodeTarget = "https://api2.tozelabs.com/v2/watched_episodes/episode/%s"
	tvtimeSearchTarget  = "https://search.tvtime.com/v1/search/series,movie"
	tvtimeMovieTarget   = "https://msapi.tvtime.com/prod/v1/tracking/%s/watch"
)

// TVTimeClient implements Client against the TV Time sidecar API.
//
// JWT tokens are obtained once per account via username/password login and
// cached; a 401 on a cached token fails the current event fatally (retrying
// with the same token cannot succeed) and evicts the token, so the next event
// for the account logs in fresh.
type TVTimeClient struct {
	baseURL    string
	httpClient *http.Client

	// movieUUIDs remembers resolved catalog identifiers so repeated syncs of
	// the same movie skip the search round trips.
	movieUUIDs *cache.LRU[string]

	mu     sync.Mutex
	tokens map[string]string // account username -> JWT
}

// NewTVTimeClient creates a TV Time client. An empty baseURL selects the
// production endpoint; tests point it at an httptest server.
func NewTVTimeClient(baseURL string) *TVTimeClient {
	if baseURL == "" {
		baseURL = tvtimeDefaultBaseURL
	}
	return &TVTimeClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		movieUUIDs: cache.NewLRU[string](1024, 24*time.Hour),
		tokens:     make(map[string]string),
	}
}

// errTokenRejected marks a 401 on a cached JWT, which means the token has
// expired or been revoked since login.
var errTokenRejected = errors.New("tvtime: token rejected")

// Service implements Client.
func (c *TVTimeClient) Service() accounts.ServiceKind {
	return accounts.ServiceTVTime
}

// MarkWatched implements Client.
func (c *TVTimeClient) MarkWatched(ctx context.Context, account accounts.BackendAccount, ev *event.PlaybackEvent) error {
	acct, ok := account.(accounts.TVTimeAccount)
	if !ok {
		return retry.Fatal(fmt.Errorf("tvtime: wrong account variant %T", account))
	}

	token, err := c.token(ctx, acct)
	if err != nil {
		return err
	}

	if ev.Kind == event.MediaKindEpisode {
		err = c.markEpisode(ctx, token, ev)
	} else {
		err = c.markMovie(ctx, token, ev)
	}

	if errors.Is(err, errTokenRejected) {
		// Evict the stale JWT so the next event for this account logs in
		// again instead of failing until restart.
		c.mu.Lock()
		delete(c.tokens, acct.Username)
		c.mu.Unlock()
	}
	return err
}

// token returns the cached JWT for the account, logging in on first use.
func (c *TVTimeClient) token(ctx context.Context, acct accounts.TVTimeAccount) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[acct.Username]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	defer metrics.ObserveBackendCall("tvtime", "login", time.Now())

	body, err := json.Marshal(map[string]string{
		"username": acct.Username,
		"password": acct.Password,
	})
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("tvtime: encoding login request: %w", err))
	}

	resp, err := c.do(ctx, http.MethodPost, tvtimeLoginTarget, "", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tvtime: login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", retry.Fatal(fmt.Errorf("tvtime: invalid credentials for %s", acct.Username))
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("tvtime", "login", resp.StatusCode)
	}

	var login struct {
		Data struct {
			JWTToken string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", retry.Retryable(fmt.Errorf("tvtime: decoding login response: %w", err))
	}
	if login.Data.JWTToken == "" {
		return "", retry.Fatal(fmt.Errorf("tvtime: login returned no token for %s", acct.Username))
	}

	c.mu.Lock()
	c.tokens[acct.Username] = login.Data.JWTToken
	c.mu.Unlock()

	logging.Debug().Str("service", "tvtime").Str("account", acct.Username).Msg("Logged in")
	return login.Data.JWTToken, nil
}

// markEpisode marks one episode watched by its TVDB ID.
func (c *TVTimeClient) markEpisode(ctx context.Context, token string, ev *event.PlaybackEvent) error {
	tvdbID := ev.ID(event.ProviderTVDB)
	if tvdbID == "" {
		// The episode endpoint is keyed by TVDB ID only.
		return fmt.Errorf("%w: no TVDB identifier for %s", ErrNotApplicable, ev)
	}

	defer metrics.ObserveBackendCall("tvtime", "mark_episode", time.Now())

	target := fmt.Sprintf(tvtimeEpisodeTarget, url.PathEscape(tvdbID)) + "?is_rewatch=0"
	resp, err := c.do(ctx, http.MethodPost, target, token, nil)
	if err != nil {
		return fmt.Errorf("tvtime: marking episode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return retry.Fatal(fmt.Errorf("%w marking episode %s", errTokenRejected, tvdbID))
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus("tvtime", "mark_episode", resp.StatusCode)
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return retry.Retryable(fmt.Errorf("tvtime: decoding episode response: %w", err))
	}
	if result.Result != "OK" {
		return retry.Fatal(fmt.Errorf("tvtime: episode %s not accepted: %q", tvdbID, result.Result))
	}

	logging.Info().Str("service", "tvtime").Str("tvdb", tvdbID).Msgf("Marked %s as watched", ev)
	return nil
}

// markMovie resolves the movie to a TV Time UUID and marks it watched.
func (c *TVTimeClient) markMovie(ctx context.Context, token string, ev *event.PlaybackEvent) error {
	uuid, err := c.findMovieUUID(ctx, token, ev)
	if err != nil {
		return err
	}
	if uuid == "" {
		return fmt.Errorf("%w: movie %q not in TV Time catalog", ErrNotApplicable, ev.Title)
	}

	defer metrics.ObserveBackendCall("tvtime", "mark_movie", time.Now())

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf(tvtimeMovieTarget, url.PathEscape(uuid)), token, nil)
	if err != nil {
		return fmt.Errorf("tvtime: marking movie: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return retry.Fatal(fmt.Errorf("%w marking movie %q", errTokenRejected, ev.Title))
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus("tvtime", "mark_movie", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return retry.Retryable(fmt.Errorf("tvtime: decoding movie response: %w", err))
	}
	if result.Status != "success" {
		return retry.Fatal(fmt.Errorf("tvtime: movie %q not accepted: %q", ev.Title, result.Status))
	}

	logging.Info().Str("service", "tvtime").Str("uuid", uuid).Msgf("Marked %q as watched", ev.Title)
	return nil
}

// findMovieUUID searches the TV Time catalog, trying each provider ID in
// preference order and falling back to a title search. An empty UUID with a
// nil error means the movie is simply not in the catalog.
func (c *TVTimeClient) findMovieUUID(ctx context.Context, token string, ev *event.PlaybackEvent) (string, error) {
	queries := make([]string, 0, 4)
	for _, p := range []event.Provider{event.ProviderTVDB, event.ProviderTMDB, event.ProviderIMDB} {
		if id := ev.ID(p); id != "" {
			queries = append(queries, id)
		}
	}
	if ev.Title != "" {
		queries = append(queries, ev.Title)
	}
	if len(queries) == 0 {
		return "", nil
	}

	// Resolutions are stable, so cache them under the most specific key.
	cacheKey := "movie:" + queries[0]
	if uuid, ok := c.movieUUIDs.Get(cacheKey); ok {
		return uuid, nil
	}

	var lastErr error
	for _, q := range queries {
		uuid, err := c.searchMovie(ctx, token, q)
		if err != nil {
			if retry.IsFatal(err) {
				return "", err
			}
			// Transient search failure: remember it and try the next key.
			lastErr = err
			continue
		}
		if uuid != "" {
			c.movieUUIDs.Add(cacheKey, uuid)
			return uuid, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

// searchMovie runs one catalog search and returns the first movie UUID.
func (c *TVTimeClient) searchMovie(ctx context.Context, token, query string) (string, error) {
	defer metrics.ObserveBackendCall("tvtime", "search", time.Now())

	target := tvtimeSearchTarget + "?q=" + url.QueryEscape(query) + "&offset=0&limit=5"
	resp, err := c.do(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return "", fmt.Errorf("tvtime: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("tvtime", "search", resp.StatusCode)
	}

	var search struct {
		Status string `json:"status"`
		Data   []struct {
			Type string `json:"type"`
			UUID string `json:"uuid"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return "", retry.Retryable(fmt.Errorf("tvtime: decoding search response: %w", err))
	}
	if search.Status != "success" {
		return "", nil
	}

	for _, hit := range search.Data {
		if hit.Type == "movie" {
			return hit.UUID, nil
		}
	}
	return "", nil
}

// do issues one sidecar request. The upstream target goes in the o query
// parameter; token, when set, is sent as a bearer authorization.
func (c *TVTimeClient) do(ctx context.Context, method, target, token string, body io.Reader) (*http.Response, error) {
	u := c.baseURL + "/sidecar?o=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.httpClient.Do(req)
}
