// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package backends

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/metrics"
	"github.com/tomtom215/watchbridge/internal/retry"
)

const (
	traktDefaultBaseURL = "https://api.trakt.tv"
	traktAPIVersion     = "2"

	// Refresh shortly before the access token actually expires so an
	// in-flight request never races the deadline.
	traktExpirySkew = 5 * time.Minute
)

// traktToken is one account's OAuth2 state.
type traktToken struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func (t *traktToken) valid(now time.Time) bool {
	return t != nil && t.accessToken != "" && now.Before(t.expiresAt.Add(-traktExpirySkew))
}

// TraktClient implements Client against the Trakt.tv v2 API.
//
// Each account authenticates with the OAuth2 authorization-code grant: the
// one-time code from config is exchanged for an access/refresh token pair on
// first use, and the refresh token renews the pair when it nears expiry. A
// failed refresh falls back to the original code exchange, which fails fatal
// once the code has been consumed and the operator must re-authorize.
type TraktClient struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]*traktToken // client ID -> token state
}

// NewTraktClient creates a Trakt client. An empty baseURL selects the
// production endpoint; tests point it at an httptest server.
func NewTraktClient(baseURL string) *TraktClient {
	if baseURL == "" {
		baseURL = traktDefaultBaseURL
	}
	return &TraktClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     make(map[string]*traktToken),
	}
}

// Service implements Client.
func (c *TraktClient) Service() accounts.ServiceKind {
	return accounts.ServiceTrakt
}

// MarkWatched implements Client.
func (c *TraktClient) MarkWatched(ctx context.Context, account accounts.BackendAccount, ev *event.PlaybackEvent) error {
	acct, ok := account.(accounts.TraktAccount)
	if !ok {
		return retry.Fatal(fmt.Errorf("trakt: wrong account variant %T", account))
	}

	token, err := c.accessToken(ctx, acct)
	if err != nil {
		return err
	}

	payload := historyPayload(ev)
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Fatal(fmt.Errorf("trakt: encoding history request: %w", err))
	}

	defer metrics.ObserveBackendCall("trakt", "sync_history", time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync/history", bytes.NewReader(body))
	if err != nil {
		return retry.Fatal(fmt.Errorf("trakt: building history request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", acct.ClientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trakt: sync history: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated, resp.StatusCode == http.StatusOK:
		// Fall through to inspect the per-item result below.
	case resp.StatusCode == http.StatusConflict:
		// Already in history. The desired end state holds, so treat it as
		// success rather than surface a spurious failure.
		logging.Debug().Str("service", "trakt").Msgf("%s already in history", ev)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(fmt.Errorf("trakt: rate limited syncing %s", ev))
	default:
		return classifyStatus("trakt", "sync_history", resp.StatusCode)
	}

	var result struct {
		Added struct {
			Movies   int `json:"movies"`
			Episodes int `json:"episodes"`
		} `json:"added"`
		NotFound struct {
			Movies   []json.RawMessage `json:"movies"`
			Episodes []json.RawMessage `json:"episodes"`
		} `json:"not_found"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return retry.Retryable(fmt.Errorf("trakt: decoding history response: %w", err))
	}

	if len(result.NotFound.Movies) > 0 || len(result.NotFound.Episodes) > 0 {
		return fmt.Errorf("%w: %s not in Trakt catalog", ErrNotApplicable, ev)
	}
	if result.Added.Movies == 0 && result.Added.Episodes == 0 {
		// Trakt deduplicates history additions; nothing added and nothing
		// rejected means it was already recorded.
		logging.Debug().Str("service", "trakt").Msgf("%s already in history", ev)
		return nil
	}

	logging.Info().Str("service", "trakt").Msgf("Marked %s as watched", ev)
	return nil
}

// accessToken returns a valid bearer token for the account, exchanging or
// refreshing as needed. The lock is held across the exchange so concurrent
// dispatches for one account do not burn the one-time code twice.
func (c *TraktClient) accessToken(ctx context.Context, acct accounts.TraktAccount) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	tok := c.tokens[acct.ClientID]
	if tok.valid(now) {
		return tok.accessToken, nil
	}

	if tok != nil && tok.refreshToken != "" {
		refreshed, err := c.exchange(ctx, acct, map[string]string{
			"refresh_token": tok.refreshToken,
			"client_id":     acct.ClientID,
			"client_secret": acct.ClientSecret,
			"redirect_uri":  acct.RedirectURI,
			"grant_type":    "refresh_token",
		})
		if err == nil {
			c.tokens[acct.ClientID] = refreshed
			return refreshed.accessToken, nil
		}
		if retry.IsFatal(err) {
			// Refresh token revoked. The original code exchange below is the
			// only remaining path.
			logging.Warn().Str("service", "trakt").Err(err).Msg("Token refresh rejected, retrying code exchange")
		} else {
			return "", err
		}
	}

	exchanged, err := c.exchange(ctx, acct, map[string]string{
		"code":          acct.Code,
		"client_id":     acct.ClientID,
		"client_secret": acct.ClientSecret,
		"redirect_uri":  acct.RedirectURI,
		"grant_type":    "authorization_code",
	})
	if err != nil {
		return "", err
	}
	c.tokens[acct.ClientID] = exchanged
	return exchanged.accessToken, nil
}

// exchange performs one POST /oauth/token call.
func (c *TraktClient) exchange(ctx context.Context, acct accounts.TraktAccount, form map[string]string) (*traktToken, error) {
	defer metrics.ObserveBackendCall("trakt", "oauth_token", time.Now())

	body, err := json.Marshal(form)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("trakt: encoding token request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("trakt: building token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trakt: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return nil, retry.Fatal(fmt.Errorf("trakt: authorization rejected for client %s (HTTP %d)", acct.ClientID, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("trakt", "oauth_token", resp.StatusCode)
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		CreatedAt    int64  `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, retry.Retryable(fmt.Errorf("trakt: decoding token response: %w", err))
	}
	if grant.AccessToken == "" {
		return nil, retry.Fatal(fmt.Errorf("trakt: token exchange returned no access token for client %s", acct.ClientID))
	}

	expiresAt := time.Unix(grant.CreatedAt, 0).Add(time.Duration(grant.ExpiresIn) * time.Second)
	if grant.CreatedAt == 0 {
		expiresAt = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}

	logging.Debug().Str("service", "trakt").Str("client", acct.ClientID).Time("expires_at", expiresAt).Msg("Obtained access token")
	return &traktToken{
		accessToken:  grant.AccessToken,
		refreshToken: grant.RefreshToken,
		expiresAt:    expiresAt,
	}, nil
}

// traktIDs is the provider ID object Trakt expects. IMDB IDs are strings;
// TVDB and TMDB IDs are numeric.
type traktIDs struct {
	IMDB string `json:"imdb,omitempty"`
	TVDB int    `json:"tvdb,omitempty"`
	TMDB int    `json:"tmdb,omitempty"`
}

func idsFor(ev *event.PlaybackEvent) traktIDs {
	ids := traktIDs{IMDB: ev.ID(event.ProviderIMDB)}
	if n, err := strconv.Atoi(ev.ID(event.ProviderTVDB)); err == nil {
		ids.TVDB = n
	}
	if n, err := strconv.Atoi(ev.ID(event.ProviderTMDB)); err == nil {
		ids.TMDB = n
	}
	return ids
}

// historyPayload builds the /sync/history body for one event.
func historyPayload(ev *event.PlaybackEvent) map[string]any {
	watchedAt := ev.OccurredAt.UTC().Format(time.RFC3339)

	if ev.Kind == event.MediaKindEpisode {
		return map[string]any{
			"episodes": []map[string]any{{
				"watched_at": watchedAt,
				"ids":        idsFor(ev),
			}},
		}
	}

	movie := map[string]any{
		"watched_at": watchedAt,
		"title":      ev.Title,
		"ids":        idsFor(ev),
	}
	if ev.Year != 0 {
		movie["year"] = ev.Year
	}
	return map[string]any{
		"movies": []map[string]any{movie},
	}
}
