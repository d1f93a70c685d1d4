// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package backends

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/event"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/metrics"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// Ensure BreakerClient implements Client
var _ Client = (*BreakerClient)(nil)

// BreakerClient wraps a backend client with a circuit breaker so a tracking
// service outage stops producing attempt storms against it.
//
// Only transient failures count toward tripping the breaker: fatal errors and
// ErrNotApplicable describe the request or the media, not the service's
// health. A rejected call (open breaker) is reported as retryable so the
// dispatch-level retry executor backs off and probes again.
//
// DETERMINISM NOTE: the breaker uses real time (via sony/gobreaker) for its
// interval and timeout calculations. This is intentional for production
// resilience.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// WithBreaker wraps the client with a circuit breaker:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func WithBreaker(inner Client) *BreakerClient {
	name := string(inner.Service())

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().Str("backend", name).Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("backend", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},

		// Fatal errors and catalog misses say nothing about service health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return retry.IsFatal(err) || errors.Is(err, ErrNotApplicable)
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: name}
}

// Service implements Client.
func (b *BreakerClient) Service() accounts.ServiceKind {
	return b.inner.Service()
}

// MarkWatched implements Client.
func (b *BreakerClient) MarkWatched(ctx context.Context, account accounts.BackendAccount, ev *event.PlaybackEvent) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.MarkWatched(ctx, account, ev)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Warn().Str("backend", b.name).Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		return retry.Retryable(fmt.Errorf("%s unavailable: %w", b.name, err))
	}
	return err
}

// State returns the current circuit breaker state for health reporting.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
