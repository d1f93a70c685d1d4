// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package models

// Jellyfin Webhook Models
// These structures represent payloads from the Jellyfin Webhook plugin
// using a flat JSON template. Unlike Plex, Jellyfin delivers the payload
// as a plain JSON body.
//
// Plugin: https://github.com/jellyfin/jellyfin-plugin-webhook
// The template is expected to emit "PlaybackStop" events with a
// played_to_completion flag; anything else is ignored upstream.

// JellyfinWebhook represents a Jellyfin webhook-plugin payload.
//
// The webhook template stringifies booleans, so PlayedToCompletion is "True"
// or "False" rather than a JSON bool. Provider IDs are flattened into
// dedicated fields by the template.
type JellyfinWebhook struct {
	Event               string `json:"event"`                 // Event type (e.g., "PlaybackStop")
	Username            string `json:"username"`              // Jellyfin account name
	PlayedToCompletion  string `json:"played_to_completion"`  // "True" when watched through
	ItemType            string `json:"item_type"`             // "Movie" or "Episode"
	Title               string `json:"title"`                 // Item title (episode or movie)
	SeriesName          string `json:"series_name"`           // Show title (episodes only)
	SeasonNumber        int    `json:"season_number"`         // Season number (episodes only)
	EpisodeNumber       int    `json:"episode_number"`        // Episode number (episodes only)
	Year                int    `json:"year"`                  // Release year
	TVDBID              string `json:"tvdb_id"`               // TheTVDB provider ID
	TMDBID              string `json:"tmdb_id"`               // TMDB provider ID
	IMDBID              string `json:"imdb_id"`               // IMDB provider ID
	ServerID            string `json:"server_id"`             // Jellyfin server identifier
	ServerName          string `json:"server_name"`           // Jellyfin server name
	DeviceName          string `json:"device_name"`           // Playing device
	ClientName          string `json:"client_name"`           // Playing client application
	UserID              string `json:"user_id"`               // Jellyfin user GUID
	ItemID              string `json:"item_id"`               // Jellyfin item GUID
	PlaybackPositionSec int64  `json:"playback_position_sec"` // Final playback position
	RunTimeSec          int64  `json:"run_time_sec"`          // Item runtime
}

// IsWatched reports whether this payload signals a completed playback.
func (w *JellyfinWebhook) IsWatched() bool {
	return w.Event == "PlaybackStop" && w.PlayedToCompletion == "True"
}

// GetUsername returns the Jellyfin account name.
func (w *JellyfinWebhook) GetUsername() string {
	return w.Username
}
