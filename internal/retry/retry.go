// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package retry runs a unit of work under an exponential-backoff-with-jitter
// policy. It distinguishes retryable failures (transient network or service
// errors, retried until the budget is exhausted) from fatal failures (bad
// credentials, malformed requests) which terminate immediately without
// consuming backoff budget.
//
// The executor knows nothing about what it is running; backend clients
// classify their own errors with Retryable and Fatal.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures the backoff schedule for one operation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt; a
	// permanently failing retryable operation runs MaxRetries+1 times.
	MaxRetries int

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay each retry. Must be >= 1.
	BackoffFactor float64

	// Jitter perturbs each delay by a uniformly random fraction of itself,
	// in [0, 1]. 0.1 means +/- 10%.
	Jitter float64
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		Jitter:        0.1,
	}
}

// Status is a terminal state of a retried operation.
type Status string

const (
	// StatusSuccess means an attempt succeeded.
	StatusSuccess Status = "success"

	// StatusExhausted means every attempt failed with a retryable error.
	StatusExhausted Status = "failed_exhausted"

	// StatusFatal means an attempt failed with a non-retryable error, or
	// the surrounding context was cancelled during backoff.
	StatusFatal Status = "failed_fatal"
)

// Outcome reports how an operation terminated.
type Outcome struct {
	Status   Status
	Attempts int
	Err      error // nil for StatusSuccess
}

// Delay computes the backoff before retry n (0-indexed): the exponential
// schedule min(MaxDelay, InitialDelay * BackoffFactor^n), perturbed by a
// uniformly random +/- Jitter fraction and clamped to >= 0.
func Delay(policy Policy, n int) time.Duration {
	base := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(n))
	if max := float64(policy.MaxDelay); base > max {
		base = max
	}

	jitter := base * policy.Jitter * (2*rand.Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// Run executes op until it succeeds, fails fatally, or exhausts the policy's
// retry budget. The backoff sleep between attempts is interruptible: if ctx
// is cancelled while waiting, Run returns immediately with StatusFatal and
// ctx's error so shutdown is never delayed by a pending backoff window. An
// attempt already in flight is allowed to complete.
func Run(ctx context.Context, policy Policy, op func(context.Context) error) Outcome {
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := range maxAttempts {
		err := op(ctx)
		if err == nil {
			return Outcome{Status: StatusSuccess, Attempts: attempt + 1}
		}
		lastErr = err

		if IsFatal(err) {
			return Outcome{Status: StatusFatal, Attempts: attempt + 1, Err: err}
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-time.After(Delay(policy, attempt)):
		case <-ctx.Done():
			return Outcome{Status: StatusFatal, Attempts: attempt + 1, Err: ctx.Err()}
		}
	}

	return Outcome{Status: StatusExhausted, Attempts: maxAttempts, Err: lastErr}
}
