// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUGetAdd(t *testing.T) {
	t.Parallel()

	c := NewLRU[string](4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss on empty cache")
	}

	c.Add("a", "alpha")
	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Errorf("Expected alpha, got %q (ok=%v)", v, ok)
	}

	c.Add("a", "alpha2")
	if v, _ := c.Get("a"); v != "alpha2" {
		t.Errorf("Expected updated value, got %q", v)
	}
	if c.Len() != 1 {
		t.Errorf("Expected single entry after update, got %d", c.Len())
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := NewLRU[int](3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected hit on a")
	}

	c.Add("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("Expected %s to survive eviction", key)
		}
	}
}

func TestLRUExpiry(t *testing.T) {
	t.Parallel()

	c := NewLRU[string](4, 10*time.Millisecond)
	c.Add("a", "alpha")

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("Expected entry to expire")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry removed on access, got len %d", c.Len())
	}
}

func TestLRURemove(t *testing.T) {
	t.Parallel()

	c := NewLRU[string](4, time.Minute)
	c.Add("a", "alpha")
	c.Remove("a")
	c.Remove("never-added")

	if _, ok := c.Get("a"); ok {
		t.Error("Expected removed entry to miss")
	}
}

func TestLRUStats(t *testing.T) {
	t.Parallel()

	c := NewLRU[string](4, time.Minute)
	c.Add("a", "alpha")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("Expected 2 hits / 1 miss, got %d / %d", hits, misses)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewLRU[int](64, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%32)
				c.Add(key, n)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("Cache exceeded capacity: %d", c.Len())
	}
}
