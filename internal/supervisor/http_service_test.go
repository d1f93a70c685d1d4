// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// mockServer simulates *http.Server lifecycle behavior.
type mockServer struct {
	listenErr   error
	listenBlock chan struct{}
	shutdowns   int
}

func (m *mockServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.listenBlock
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdowns++
	close(m.listenBlock)
	return nil
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	t.Parallel()

	srv := &mockServer{listenErr: errors.New("address in use")}
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Expected startup error to propagate, got %v", err)
	}
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	t.Parallel()

	srv := &mockServer{listenBlock: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give the server goroutine a moment to start, then request shutdown.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled after graceful shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if srv.shutdowns != 1 {
		t.Errorf("Expected exactly one Shutdown call, got %d", srv.shutdowns)
	}
}

func TestHTTPServiceReleasesRequestWorkOnShutdown(t *testing.T) {
	t.Parallel()

	srv := &mockServer{listenBlock: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	time.Sleep(10 * time.Millisecond)

	// Simulate a handler parked in a retry backoff sleep on its request
	// context, the way the dispatcher waits between attempts.
	reqCtx := svc.BaseContext(nil)
	woke := make(chan error, 1)
	go func() {
		select {
		case <-reqCtx.Done():
			woke <- reqCtx.Err()
		case <-time.After(3 * time.Second):
			woke <- nil
		}
	}()

	cancel()

	select {
	case err := <-woke:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected request context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Request context was not cancelled by shutdown")
	}

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Serve, got %v", err)
	}
}

func TestHTTPServiceString(t *testing.T) {
	t.Parallel()

	svc := NewHTTPServerService(&mockServer{}, 0)
	if svc.String() != "http-server" {
		t.Errorf("Unexpected service name %q", svc.String())
	}
}
