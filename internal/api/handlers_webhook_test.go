// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/backends"
	"github.com/tomtom215/watchbridge/internal/dispatch"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/models"
	"github.com/tomtom215/watchbridge/internal/ratelimit"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// okClient records the events it is asked to sync and always succeeds.
type okClient struct {
	service accounts.ServiceKind
	events  []*event.PlaybackEvent
}

func (c *okClient) Service() accounts.ServiceKind { return c.service }

func (c *okClient) MarkWatched(ctx context.Context, account accounts.BackendAccount, ev *event.PlaybackEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func testRouter(t *testing.T, secret string, sets ...accounts.UserAccountSet) (http.Handler, *okClient) {
	t.Helper()
	client := &okClient{service: accounts.ServiceTVTime}
	d := dispatch.New(
		ratelimit.New(0, 1),
		accounts.NewRegistry(sets),
		[]backends.Client{client},
		retry.Policy{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, Jitter: 0},
	)
	return NewHandler(d, secret).Routes(), client
}

func aliceSet() accounts.UserAccountSet {
	return accounts.UserAccountSet{
		UserIdentity: "alice",
		Accounts:     []accounts.BackendAccount{accounts.TVTimeAccount{Username: "alice"}},
	}
}

func plexScrobblePayload(user string) []byte {
	hook := models.PlexWebhook{
		Event:   "media.scrobble",
		Account: models.PlexWebhookAccount{Title: user},
		Metadata: &models.PlexWebhookMetadata{
			LibrarySectionType: "show",
			Type:               "episode",
			Title:              "Pilot",
			GrandparentTitle:   "Some Show",
			ParentIndex:        1,
			Index:              1,
			GUIDs:              []models.PlexGUID{{ID: "tvdb://123456"}},
		},
	}
	data, _ := json.Marshal(hook)
	return data
}

func multipartBody(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormField("payload")
	if err != nil {
		t.Fatalf("Creating form field: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("Writing form field: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestWebhookPlexMultipartScrobble(t *testing.T) {
	router, client := testRouter(t, "", aliceSet())

	body, contentType := multipartBody(t, plexScrobblePayload("Alice"))
	req := httptest.NewRequest(http.MethodPost, "/webhook/plex", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			User     string `json:"user"`
			Outcomes []struct {
				Service string `json:"service"`
				Status  string `json:"status"`
			} `json:"outcomes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if resp.Data.User != "alice" {
		t.Errorf("Expected lowercased plex user, got %q", resp.Data.User)
	}
	if len(resp.Data.Outcomes) != 1 || resp.Data.Outcomes[0].Status != "success" {
		t.Errorf("Unexpected outcomes: %+v", resp.Data.Outcomes)
	}

	if len(client.events) != 1 {
		t.Fatalf("Expected 1 dispatched event, got %d", len(client.events))
	}
	if client.events[0].ID(event.ProviderTVDB) != "123456" {
		t.Errorf("Unexpected event ids: %+v", client.events[0].IDs)
	}
}

func TestWebhookPlexIgnoredEvent(t *testing.T) {
	router, client := testRouter(t, "", aliceSet())

	payload := plexScrobblePayload("Alice")
	payload = bytes.Replace(payload, []byte("media.scrobble"), []byte("media.pause"), 1)

	req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for ignored event, got %d", rec.Code)
	}
	if len(client.events) != 0 {
		t.Error("Ignored event must not be dispatched")
	}
}

func TestWebhookJellyfinPlaybackStop(t *testing.T) {
	router, client := testRouter(t, "", accounts.UserAccountSet{
		UserIdentity: "Bob",
		Accounts:     []accounts.BackendAccount{accounts.TVTimeAccount{Username: "bob"}},
	})

	hook := models.JellyfinWebhook{
		Event:              "PlaybackStop",
		Username:           "Bob",
		PlayedToCompletion: "True",
		ItemType:           "Episode",
		Title:              "Pilot",
		SeriesName:         "Some Show",
		SeasonNumber:       1,
		EpisodeNumber:      1,
		TVDBID:             "123456",
	}
	payload, _ := json.Marshal(hook)

	req := httptest.NewRequest(http.MethodPost, "/webhook/jellyfin", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(client.events) != 1 {
		t.Fatalf("Expected 1 dispatched event, got %d", len(client.events))
	}
	// Jellyfin usernames are carried verbatim.
	if client.events[0].UserIdentity != "Bob" {
		t.Errorf("Expected verbatim jellyfin user, got %q", client.events[0].UserIdentity)
	}
}

func TestWebhookUnconfiguredUser(t *testing.T) {
	router, _ := testRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(plexScrobblePayload("stranger")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for unconfigured user, got %d", rec.Code)
	}
}

func TestWebhookUnknownSource(t *testing.T) {
	router, _ := testRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/emby", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown source, got %d", rec.Code)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	const secret = "webhook-secret-value"
	router, _ := testRouter(t, secret, aliceSet())

	payload := plexScrobblePayload("Alice")

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 without signature, got %d", rec.Code)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Plex-Signature", "not-a-signature")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 with bad signature, got %d", rec.Code)
		}
	})

	t.Run("valid signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		signature := hex.EncodeToString(mac.Sum(nil))

		req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Plex-Signature", signature)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 with valid signature, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestWebhookRateLimited(t *testing.T) {
	client := &okClient{service: accounts.ServiceTVTime}
	d := dispatch.New(
		ratelimit.New(60, 1),
		accounts.NewRegistry([]accounts.UserAccountSet{aliceSet()}),
		[]backends.Client{client},
		retry.Policy{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, Jitter: 0},
	)
	router := NewHandler(d, "").Routes()

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/plex", bytes.NewReader(plexScrobblePayload("Alice")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("Expected first event admitted, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after bucket drained, got %d", code)
	}
}

func TestWebhookOversizedPayloadRejected(t *testing.T) {
	router, client := testRouter(t, "", aliceSet())

	big := bytes.Repeat([]byte("a"), maxWebhookBody+1024)
	body, contentType := multipartBody(t, big)
	req := httptest.NewRequest(http.MethodPost, "/webhook/plex", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized payload, got %d", rec.Code)
	}
	if len(client.events) != 0 {
		t.Error("Oversized payload must not be dispatched")
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	router, _ := testRouter(t, "", aliceSet())

	req := httptest.NewRequest(http.MethodPost, "/webhook/jellyfin", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for undecodable payload, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := testRouter(t, "")

	for _, path := range []string{"/health", "/health/live"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 from %s, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
}
