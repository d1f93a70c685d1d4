// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package models

import (
	"fmt"
	"strings"
)

// Plex Webhook Models
// These structures represent HTTP webhook payloads from Plex Media Server.
// Plex POSTs a multipart form with a "payload" field containing JSON.
// Setup: Plex Settings → Webhooks → Add webhook URL
// Documentation: https://support.plex.tv/articles/115002267687-webhooks/
// Events: media.play, media.pause, media.resume, media.stop, media.scrobble,
//         media.rate, library.on.deck, library.new

// PlexWebhook represents a Plex webhook HTTP POST payload.
type PlexWebhook struct {
	Event    string               `json:"event"`              // Webhook event type (e.g., "media.scrobble")
	User     bool                 `json:"user"`               // True if user-initiated action
	Owner    bool                 `json:"owner"`              // True if server owner triggered event
	Account  PlexWebhookAccount   `json:"Account"`            // User account information
	Server   PlexWebhookServer    `json:"Server"`             // Plex server information
	Player   PlexWebhookPlayer    `json:"Player"`             // Client/device information
	Metadata *PlexWebhookMetadata `json:"Metadata,omitempty"` // Content metadata (present for media events)
}

// PlexWebhookAccount represents the user account in webhook payload.
type PlexWebhookAccount struct {
	ID    int    `json:"id"`    // Plex account ID
	Thumb string `json:"thumb"` // Profile picture URL
	Title string `json:"title"` // Username/display name
}

// PlexWebhookServer represents the Plex server in webhook payload.
type PlexWebhookServer struct {
	Title string `json:"title"` // Server name
	UUID  string `json:"uuid"`  // Server machine identifier
}

// PlexWebhookPlayer represents the client/device in webhook payload.
type PlexWebhookPlayer struct {
	Local         bool   `json:"local"`         // True if on local network
	PublicAddress string `json:"publicAddress"` // Client IP address
	Title         string `json:"title"`         // Device name
	UUID          string `json:"uuid"`          // Device unique identifier
}

// PlexWebhookMetadata represents content metadata in webhook payload.
type PlexWebhookMetadata struct {
	LibrarySectionType   string     `json:"librarySectionType"`   // "movie", "show", "artist"
	RatingKey            string     `json:"ratingKey"`            // Content unique identifier
	Key                  string     `json:"key"`                  // Metadata API path
	ParentRatingKey      string     `json:"parentRatingKey"`      // Parent (season) key
	GrandparentRatingKey string     `json:"grandparentRatingKey"` // Grandparent (show) key
	GUID                 string     `json:"guid"`                 // Primary external GUID (imdb://, tvdb://)
	GUIDs                []PlexGUID `json:"Guid,omitempty"`       // All external provider GUIDs
	LibrarySectionTitle  string     `json:"librarySectionTitle"`  // Library name
	LibrarySectionID     int        `json:"librarySectionID"`     // Library section ID
	Type                 string     `json:"type"`                 // Content type: "movie", "episode"
	Title                string     `json:"title"`                // Content title
	GrandparentTitle     string     `json:"grandparentTitle"`     // Show title
	ParentTitle          string     `json:"parentTitle"`          // Season title
	Index                int        `json:"index"`                // Episode number
	ParentIndex          int        `json:"parentIndex"`          // Season number
	Year                 int        `json:"year"`                 // Release year
	AddedAt              int64      `json:"addedAt"`              // Unix timestamp when added
	UpdatedAt            int64      `json:"updatedAt"`            // Unix timestamp last updated
}

// PlexGUID is one entry of the Metadata Guid array, carrying an external
// provider identifier in URI form, e.g. "tvdb://123456", "tmdb://603",
// "imdb://tt0133093".
type PlexGUID struct {
	ID string `json:"id"`
}

// Provider splits the GUID URI into provider name and provider-specific ID.
// Returns ok=false for GUIDs that are not in "provider://id" form.
func (g PlexGUID) Provider() (provider, id string, ok bool) {
	parts := strings.SplitN(g.ID, "://", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsMediaEvent returns true if this is a media playback event.
func (w *PlexWebhook) IsMediaEvent() bool {
	return strings.HasPrefix(w.Event, "media.")
}

// GetUsername returns the username from the webhook account.
func (w *PlexWebhook) GetUsername() string {
	return w.Account.Title
}

// GetContentTitle returns a formatted content title for logging.
func (w *PlexWebhook) GetContentTitle() string {
	if w.Metadata == nil {
		return ""
	}
	if w.Metadata.GrandparentTitle != "" {
		// TV Show episode: "Show Name - S01E05 - Episode Title"
		return fmt.Sprintf("%s - S%02dE%02d - %s",
			w.Metadata.GrandparentTitle,
			w.Metadata.ParentIndex,
			w.Metadata.Index,
			w.Metadata.Title)
	}
	return w.Metadata.Title
}
