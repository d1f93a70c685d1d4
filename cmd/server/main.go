// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package main is the entry point for the Watchbridge server.
//
// Watchbridge receives playback webhooks from Plex and Jellyfin and marks the
// watched item on each tracking service (TV Time, Trakt) configured for the
// user who finished watching.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, environment variables (Koanf v2)
//  2. Account registry: per-user backend credentials from the users section
//  3. Backend clients: TV Time and Trakt, each wrapped in a circuit breaker
//  4. Dispatcher: rate limiter, retry policy, and concurrent fan-out
//  5. HTTP server: Chi router exposing /webhook/{source}, /health, /metrics
//  6. Supervisor: Suture tree restarting the HTTP server on failure
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins): environment variables, config file (config.yaml), built-in defaults.
// User credentials can only be set in the config file; see CONFIG_PATH to
// point at a non-default location.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new connections and waits for in-flight requests to drain
// (server.shutdown_timeout, default 10s).
//
// # Example Usage
//
//	export CONFIG_PATH=/etc/watchbridge/config.yaml
//	export LOG_LEVEL=debug
//	./watchbridge
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/api"
	"github.com/tomtom215/watchbridge/internal/backends"
	"github.com/tomtom215/watchbridge/internal/config"
	"github.com/tomtom215/watchbridge/internal/dispatch"
	"github.com/tomtom215/watchbridge/internal/logging"
	"github.com/tomtom215/watchbridge/internal/ratelimit"
	"github.com/tomtom215/watchbridge/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config failed before the logging config is known; log with defaults.
		logging.Init(logging.Config{Level: "info", Format: "json"})
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("users", len(cfg.Users)).
		Float64("rate_limit_rpm", cfg.RateLimit.RequestsPerMinute).
		Int("max_retries", cfg.Retry.MaxRetries).
		Bool("plex_signature_check", cfg.Server.PlexWebhookSecret != "").
		Msg("Configuration loaded")

	registry := accounts.NewRegistry(cfg.AccountSets())
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)

	// Each backend behind its own circuit breaker so an outage at one
	// tracking service cannot slow down syncs to the other.
	clients := []backends.Client{
		backends.WithBreaker(backends.NewTVTimeClient("")),
		backends.WithBreaker(backends.NewTraktClient("")),
	}

	dispatcher := dispatch.New(limiter, registry, clients, cfg.Retry.Policy())
	handler := api.NewHandler(dispatcher, cfg.Server.PlexWebhookSecret)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Request contexts derive from the service's base context so shutdown
	// cancels in-flight retry backoff sleeps instead of waiting them out.
	httpService := supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout)
	server.BaseContext = httpService.BaseContext

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(slogLogger, treeConfig)

	tree.Add(httpService)
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
