// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/watchbridge/internal/dispatch"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/metrics"
	"github.com/tomtom215/watchbridge/internal/models"
)

// maxWebhookBody caps webhook payload size. Plex scrobble payloads run a few
// KB; anything near the cap is hostile or misconfigured.
const maxWebhookBody = 1 << 20

// Webhook handles incoming media-server notifications
// POST /webhook/{source}
//
// Plex Setup:
//  1. Go to Plex Settings -> Webhooks
//  2. Add webhook URL: https://your-domain.com/webhook/plex
//  3. Optionally set PLEX_WEBHOOK_SECRET for HMAC-SHA256 verification
//
// Jellyfin Setup:
//  1. Install the Webhook plugin
//  2. Add a generic destination pointing at /webhook/jellyfin with the
//     flat JSON template (see docs/jellyfin-template.json)
//
// Response codes:
//   - 200: event dispatched, body carries the per-backend outcome summary
//   - 204: event received but not dispatched (not a watched signal,
//     malformed, or user has no configured backends)
//   - 401: signature verification failed
//   - 429: rejected by the ingestion rate limiter
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	source := event.Source(chi.URLParam(r, "source"))
	switch source {
	case event.SourcePlex, event.SourceJellyfin:
	default:
		respondError(w, http.StatusNotFound, "UNKNOWN_SOURCE", "Unknown webhook source", nil)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(string(source)).Inc()

	payload, err := h.readPayload(w, r, source)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read webhook payload", err)
		return
	}

	if source == event.SourcePlex && h.plexWebhookSecret != "" {
		signature := r.Header.Get("X-Plex-Signature")
		if signature == "" {
			respondError(w, http.StatusUnauthorized, "MISSING_SIGNATURE", "X-Plex-Signature header required", nil)
			return
		}
		if !verifyWebhookSignature(payload, signature, h.plexWebhookSecret) {
			respondError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed", nil)
			return
		}
	}

	raw, err := parsePayload(payload, source)
	if err != nil {
		metrics.EventsIgnored.WithLabelValues(string(source), "malformed").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("source", string(source)).Msg("Undecodable webhook payload")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev, err := event.Normalize(raw, source, start.UTC())
	if err != nil {
		h.handleNormalizeError(ctx, w, source, err)
		return
	}

	logging.Ctx(ctx).Info().
		Str("source", string(source)).
		Str("user", sanitizeLogValue(ev.UserIdentity)).
		Str("content", sanitizeLogValue(ev.String())).
		Msg("Watched signal received")

	result, err := h.dispatcher.Dispatch(ctx, ev)
	if errors.Is(err, dispatch.ErrRateLimited) {
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Event rejected by rate limiter, retry later", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DISPATCH_FAILED", "Failed to dispatch event", err)
		return
	}

	if len(result.Outcomes) == 0 {
		metrics.EventsIgnored.WithLabelValues(string(source), "unconfigured_user").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   result,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// readPayload extracts the raw JSON payload bytes. Plex delivers multipart
// form data with a "payload" field; Jellyfin posts a plain JSON body. A plain
// JSON body on the Plex endpoint is accepted too, which keeps curl testing
// simple.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request, source event.Source) ([]byte, error) {
	defer r.Body.Close()

	// MaxBytesReader enforces the cap on both paths; ParseMultipartForm's
	// argument alone is only an in-memory threshold, not a size limit.
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	if source == event.SourcePlex && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
			return nil, err
		}
		payload := r.FormValue("payload")
		if payload == "" {
			return nil, errors.New("multipart form has no payload field")
		}
		return []byte(payload), nil
	}

	return io.ReadAll(r.Body)
}

// parsePayload decodes the payload into the vendor model for the source.
func parsePayload(payload []byte, source event.Source) (any, error) {
	switch source {
	case event.SourcePlex:
		hook := &models.PlexWebhook{}
		if err := json.Unmarshal(payload, hook); err != nil {
			return nil, err
		}
		return hook, nil
	default:
		hook := &models.JellyfinWebhook{}
		if err := json.Unmarshal(payload, hook); err != nil {
			return nil, err
		}
		return hook, nil
	}
}

// handleNormalizeError maps normalizer errors onto responses. Both ignored
// and malformed events are acknowledged with 204 so the media server does not
// retry deliveries we will never act on.
func (h *Handler) handleNormalizeError(ctx context.Context, w http.ResponseWriter, source event.Source, err error) {
	var malformed *event.MalformedEventError
	switch {
	case errors.Is(err, event.ErrIgnoredEvent):
		metrics.EventsIgnored.WithLabelValues(string(source), "not_watched").Inc()
	case errors.As(err, &malformed):
		metrics.EventsIgnored.WithLabelValues(string(source), "malformed").Inc()
		logging.Ctx(ctx).Warn().Str("source", string(source)).Str("reason", sanitizeLogValue(malformed.Reason)).Msg("Malformed watched signal dropped")
	default:
		metrics.EventsIgnored.WithLabelValues(string(source), "malformed").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("source", string(source)).Msg("Unexpected normalizer error")
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifyWebhookSignature verifies the HMAC-SHA256 signature of the webhook payload
func verifyWebhookSignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
