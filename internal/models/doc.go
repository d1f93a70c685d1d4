// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package models defines the vendor webhook payload structures received from
// media servers (Plex, Jellyfin). These are wire-format types only; the
// canonical representation consumed by the rest of the system is
// event.PlaybackEvent, produced by the event package.
package models
