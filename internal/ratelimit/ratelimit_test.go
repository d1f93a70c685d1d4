// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fixedClock lets tests advance time without sleeping.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(requestsPerMinute float64, burst int) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	l := New(requestsPerMinute, burst)
	l.now = clock.now
	return l, clock
}

func TestBurstThenReject(t *testing.T) {
	t.Parallel()

	// 60 rpm = 1 token/sec, burst of 5.
	l, _ := newTestLimiter(60, 5)

	for i := range 5 {
		if !l.TryAdmit() {
			t.Fatalf("Admission %d within burst rejected", i+1)
		}
	}
	if l.TryAdmit() {
		t.Error("Expected rejection after burst exhausted")
	}
}

func TestContinuousRefill(t *testing.T) {
	t.Parallel()

	// 60 rpm = 1 token/sec.
	l, clock := newTestLimiter(60, 2)

	if !l.TryAdmit() || !l.TryAdmit() {
		t.Fatal("Burst admissions rejected")
	}
	if l.TryAdmit() {
		t.Fatal("Expected rejection with empty bucket")
	}

	// After exactly 1/R seconds one token is available again, and only one.
	clock.advance(time.Second)
	if !l.TryAdmit() {
		t.Error("Expected one admission after 1/R seconds")
	}
	if l.TryAdmit() {
		t.Error("Expected only one token after 1/R seconds")
	}

	// Refill is continuous, not window-based: half a second buys half a
	// token, which is not enough to admit.
	clock.advance(500 * time.Millisecond)
	if l.TryAdmit() {
		t.Error("Expected rejection with a partial token")
	}
	clock.advance(500 * time.Millisecond)
	if !l.TryAdmit() {
		t.Error("Expected admission once the token completed")
	}
}

func TestRefillCappedAtBurst(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(60, 3)

	// A long idle period must not accumulate more than burst tokens.
	clock.advance(time.Hour)
	admitted := 0
	for range 10 {
		if l.TryAdmit() {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("Expected 3 admissions after idle, got %d", admitted)
	}
}

func TestDisabledLimiter(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(0, 1)
	for range 1000 {
		if !l.TryAdmit() {
			t.Fatal("Disabled limiter rejected an admission")
		}
	}
}

func TestConcurrentAdmissions(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(60, 10)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAdmit() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly the burst capacity is admitted regardless of contention.
	if got := admitted.Load(); got != 10 {
		t.Errorf("Expected exactly 10 admissions, got %d", got)
	}
}

func TestMinimumBurst(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(60, 0)
	if !l.TryAdmit() {
		t.Error("Expected burst floor of 1 to admit a single event")
	}
	if l.TryAdmit() {
		t.Error("Expected second admission to be rejected")
	}
}
