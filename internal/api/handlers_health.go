// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/watchbridge/internal/models"
)

// Health reports overall service status. The service has no hard external
// dependencies at rest (backend calls happen per event), so health reduces to
// process liveness plus uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "healthy",
			"uptime": time.Since(h.started).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthLive is the Kubernetes-style liveness probe. Returns 200 OK whenever
// the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.started).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}
