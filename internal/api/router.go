// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package api provides HTTP routing for the webhook ingestion surface using
// the Chi router. The surface is deliberately small: one webhook endpoint per
// media-server source, health probes and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/watchbridge/internal/dispatch"
	"github.com/tomtom215/watchbridge/internal/middleware"
)

// Handler holds the dependencies the HTTP handlers need.
type Handler struct {
	dispatcher        *dispatch.Dispatcher
	plexWebhookSecret string
	started           time.Time
}

// NewHandler creates the handler set. An empty plexWebhookSecret disables
// Plex signature verification.
func NewHandler(dispatcher *dispatch.Dispatcher, plexWebhookSecret string) *Handler {
	return &Handler{
		dispatcher:        dispatcher,
		plexWebhookSecret: plexWebhookSecret,
		started:           time.Now(),
	}
}

// Routes builds the full route tree.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/webhook", func(r chi.Router) {
		// Per-IP flood protection in front of the application-level token
		// bucket. The bucket is the behavioral limit; this guards against a
		// single misbehaving sender starving it.
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(middleware.PrometheusMetrics)
		r.Post("/{source}", h.Webhook)
	})

	r.Get("/health", h.Health)
	r.Get("/health/live", h.HealthLive)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
