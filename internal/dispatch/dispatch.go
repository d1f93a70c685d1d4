// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package dispatch fans a playback event out to every tracking service the
// user has configured. Each backend gets its own goroutine and its own retry
// budget; one backend's failure never blocks or aborts the others.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/backends"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/metrics"
	"github.com/tomtom215/watchbridge/internal/ratelimit"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// ErrRateLimited is returned by Dispatch when the admission gate rejects the
// event. Callers surface it as a try-again signal to the webhook sender.
var ErrRateLimited = errors.New("event rejected by rate limiter")

// OutcomeStatus is the terminal state of one backend sync.
type OutcomeStatus string

const (
	// StatusSuccess means the backend recorded the watch.
	StatusSuccess OutcomeStatus = "success"

	// StatusFailedExhausted means every retry failed transiently.
	StatusFailedExhausted OutcomeStatus = "failed_exhausted"

	// StatusFailedFatal means the backend failed non-retryably.
	StatusFailedFatal OutcomeStatus = "failed_fatal"

	// StatusSkipped means the backend had nothing to do for this event,
	// e.g. the media is not in its catalog.
	StatusSkipped OutcomeStatus = "skipped"
)

// Outcome is the result of syncing one event to one backend.
type Outcome struct {
	Service   accounts.ServiceKind `json:"service"`
	Status    OutcomeStatus        `json:"status"`
	Attempts  int                  `json:"attempts"`
	LastError string               `json:"error,omitempty"`
}

// SyncResult aggregates the per-backend outcomes for one event. Outcomes are
// reported in the user's configuration order regardless of completion order.
type SyncResult struct {
	User     string    `json:"user"`
	Outcomes []Outcome `json:"outcomes"`
}

// Succeeded reports whether at least one backend recorded the watch.
func (r *SyncResult) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// Dispatcher owns the full path from admitted event to per-backend outcomes.
type Dispatcher struct {
	limiter  *ratelimit.Limiter
	registry *accounts.Registry
	clients  map[accounts.ServiceKind]backends.Client
	policy   retry.Policy
}

// New creates a dispatcher. The clients map must contain an entry for every
// service kind that appears in the registry.
func New(limiter *ratelimit.Limiter, registry *accounts.Registry, clients []backends.Client, policy retry.Policy) *Dispatcher {
	byService := make(map[accounts.ServiceKind]backends.Client, len(clients))
	for _, c := range clients {
		byService[c.Service()] = c
	}
	return &Dispatcher{
		limiter:  limiter,
		registry: registry,
		clients:  byService,
		policy:   policy,
	}
}

// Dispatch admits the event through the rate limiter, resolves the user's
// backends and syncs them concurrently. It blocks until every backend has
// reached a terminal state.
//
// A user with no configured backends yields an empty result and no error;
// that is normal operation on shared servers where only some users sync.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.PlaybackEvent) (*SyncResult, error) {
	if !d.limiter.TryAdmit() {
		metrics.EventsRateLimited.Inc()
		logging.Ctx(ctx).Warn().Msgf("Rate limited, dropping %s", ev)
		return nil, ErrRateLimited
	}

	set, ok := d.registry.Resolve(ev.UserIdentity)
	if !ok || set.Empty() {
		logging.Ctx(ctx).Debug().Str("user", ev.UserIdentity).Msg("No backends configured for user")
		return &SyncResult{User: ev.UserIdentity}, nil
	}

	logging.Ctx(ctx).Info().Str("user", ev.UserIdentity).Int("backends", len(set.Accounts)).Msgf("Dispatching %s", ev)

	// Index into outcomes is the account's configuration position, so the
	// slice needs no reordering after the goroutines finish.
	outcomes := make([]Outcome, len(set.Accounts))
	var wg sync.WaitGroup
	for i, acct := range set.Accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.syncOne(ctx, acct, ev)
		}()
	}
	wg.Wait()

	return &SyncResult{User: ev.UserIdentity, Outcomes: outcomes}, nil
}

// syncOne runs one backend sync under the retry policy and classifies the
// terminal state.
func (d *Dispatcher) syncOne(ctx context.Context, acct accounts.BackendAccount, ev *event.PlaybackEvent) Outcome {
	service := acct.Service()
	client, ok := d.clients[service]
	if !ok {
		// Configuration names a service this build has no client for.
		logging.Ctx(ctx).Error().Str("service", string(service)).Msg("No client registered for configured service")
		out := Outcome{Service: service, Status: StatusFailedFatal, Attempts: 0, LastError: "no client for service"}
		d.record(out)
		return out
	}

	result := retry.Run(ctx, d.policy, func(ctx context.Context) error {
		return client.MarkWatched(ctx, acct, ev)
	})

	out := Outcome{Service: service, Attempts: result.Attempts}
	switch {
	case result.Status == retry.StatusSuccess:
		out.Status = StatusSuccess
	case errors.Is(result.Err, backends.ErrNotApplicable):
		out.Status = StatusSkipped
		out.LastError = result.Err.Error()
	case result.Status == retry.StatusExhausted:
		out.Status = StatusFailedExhausted
		out.LastError = result.Err.Error()
	default:
		out.Status = StatusFailedFatal
		out.LastError = result.Err.Error()
	}

	d.record(out)

	evt := logging.Ctx(ctx).Info()
	if out.Status == StatusFailedExhausted || out.Status == StatusFailedFatal {
		evt = logging.Ctx(ctx).Error().Str("error", out.LastError)
	}
	evt.Str("service", string(service)).Str("status", string(out.Status)).Int("attempts", out.Attempts).Msgf("Sync finished for %s", ev)

	return out
}

func (d *Dispatcher) record(out Outcome) {
	metrics.DispatchOutcomes.WithLabelValues(string(out.Service), string(out.Status)).Inc()
	metrics.DispatchAttempts.WithLabelValues(string(out.Service)).Observe(float64(out.Attempts))
}
