// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package backends implements the tracking-service clients that perform the
// actual "mark as watched" calls. Every client classifies its own failures
// into retryable (transient, worth another attempt) or fatal (credentials,
// malformed request) via the retry package; the dispatcher never inspects
// backend-specific error detail.
package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// Client marks media as watched on one tracking service.
//
// MarkWatched returns nil on success, ErrNotApplicable when the backend
// cannot act on this event (e.g. the media is not in the service's catalog),
// a retry.Fatal-classified error for non-transient failures, and any other
// error for transient ones. Implementations own their per-call deadlines.
type Client interface {
	// Service returns which tracking service this client talks to.
	Service() accounts.ServiceKind

	// MarkWatched records the event as watched using the given account's
	// credentials. The account must be the variant matching Service().
	MarkWatched(ctx context.Context, account accounts.BackendAccount, ev *event.PlaybackEvent) error
}

// ErrNotApplicable signals that the backend has nothing it can do for this
// event. The dispatcher reports it as a skipped outcome, not a failure.
var ErrNotApplicable = errors.New("backend cannot act on this event")

// classifyStatus converts an unexpected HTTP status into a classified error.
// Auth and client errors are fatal (another attempt sends the same bad
// request); 429 and server errors are transient.
func classifyStatus(service, operation string, status int) error {
	err := fmt.Errorf("%s: %s returned HTTP %d", service, operation, status)
	switch status {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return retry.Fatal(err)
	default:
		return retry.Retryable(err)
	}
}
