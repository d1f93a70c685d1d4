// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package ratelimit provides the global token-bucket admission gate for the
// webhook ingestion path. One bucket guards the whole process: limiting is
// applied at the webhook boundary, not per user or per backend.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a non-blocking token-bucket admission gate. Capacity is the
// configured burst size; tokens refill continuously at requests-per-minute/60
// per second, computed from elapsed time rather than fixed windows, which
// avoids the thundering-herd artifact of window resets.
//
// The limiter holds no event state: just the token count and last-refill
// timestamp inside rate.Limiter, updated under its single internal lock.
// Created once at startup and shared by reference for the process lifetime.
type Limiter struct {
	bucket *rate.Limiter
	now    func() time.Time
}

// New creates a limiter admitting requestsPerMinute sustained with bursts up
// to burst. A non-positive requestsPerMinute disables limiting entirely.
func New(requestsPerMinute float64, burst int) *Limiter {
	limit := rate.Limit(requestsPerMinute / 60.0)
	if requestsPerMinute <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(limit, burst),
		now:    time.Now,
	}
}

// TryAdmit consumes one token if available. It never sleeps or queues;
// rejected events are the caller's responsibility to surface as a try-again
// signal upstream.
func (l *Limiter) TryAdmit() bool {
	return l.bucket.AllowN(l.now(), 1)
}
