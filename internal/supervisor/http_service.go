// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPServer matches *http.Server's lifecycle methods, letting tests
// substitute a mock.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService wraps an HTTP server as a supervised service, translating
// between http.Server's blocking ListenAndServe pattern and suture's
// context-aware Serve pattern.
//
// It also owns the context request handlers run under: wire BaseContext into
// http.Server.BaseContext and every request context is cancelled the moment
// shutdown begins, so in-flight work that waits on the context (retry backoff
// sleeps in the dispatcher) wakes up instead of delaying the drain.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration

	mu          sync.Mutex
	requestsCtx context.Context
}

// NewHTTPServerService creates the wrapper. shutdownTimeout bounds how long
// active connections get to drain during graceful shutdown.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// BaseContext implements the http.Server.BaseContext signature. Contexts
// derived from it (every request context) are cancelled when shutdown begins.
func (h *HTTPServerService) BaseContext(net.Listener) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requestsCtx == nil {
		return context.Background()
	}
	return h.requestsCtx
}

// Serve implements suture.Service. Returns nil on graceful shutdown;
// http.ErrServerClosed is expected then and not treated as a failure.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	requestsCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	h.mu.Lock()
	h.requestsCtx = requestsCtx
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// Release in-flight handlers before draining connections. Without
		// this, Shutdown waits out any pending backoff sleeps and can
		// exceed its own deadline.
		cancelRequests()

		// A fresh context: the original is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer; suture uses it in supervision events.
func (h *HTTPServerService) String() string {
	return "http-server"
}
