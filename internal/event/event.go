// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package event defines the canonical playback event and the normalizer that
// converts vendor webhook payloads into it. Every downstream component
// (credential resolution, dispatch, backend clients) consumes only
// PlaybackEvent; adding a new media-server source means adding a normalizer
// case here and nothing else.
package event

import (
	"errors"
	"fmt"
	"time"
)

// MediaKind identifies the canonical media type of an event.
type MediaKind string

const (
	// MediaKindMovie is a standalone movie.
	MediaKindMovie MediaKind = "movie"

	// MediaKindEpisode is a single episode of a series.
	MediaKindEpisode MediaKind = "episode"
)

// Provider identifies an external metadata provider.
type Provider string

const (
	ProviderIMDB Provider = "imdb"
	ProviderTVDB Provider = "tvdb"
	ProviderTMDB Provider = "tmdb"
)

// Source identifies which media-server vendor produced a raw record.
type Source string

const (
	SourcePlex     Source = "plex"
	SourceJellyfin Source = "jellyfin"
)

// ErrIgnoredEvent is returned by Normalize when the raw record is valid but
// is not a "watched" signal (e.g. a pause or play notification). Callers
// should drop the event silently rather than treat this as a failure.
var ErrIgnoredEvent = errors.New("event is not a watched signal")

// MalformedEventError is returned by Normalize when a watched signal is
// missing data the sync pipeline cannot proceed without.
type MalformedEventError struct {
	Source Source
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Source, e.Reason)
}

// PlaybackEvent is the canonical representation of "user X finished media Y",
// regardless of which media server reported it. It is constructed once by
// Normalize and treated as read-only by all downstream consumers; nothing may
// mutate it (including the IDs map) after construction.
type PlaybackEvent struct {
	// UserIdentity is the source-system username. Plex usernames are
	// lowercased at normalization time (matching how operators configure
	// them); Jellyfin usernames are carried verbatim.
	UserIdentity string

	// Kind is the canonical media type.
	Kind MediaKind

	// IDs maps provider name to provider-specific identifier. At least one
	// entry is always present.
	IDs map[Provider]string

	// Title is the movie title, or the episode title for episodes.
	Title string

	// SeriesTitle, Season and Episode are populated for episodes only.
	SeriesTitle string
	Season      int
	Episode     int

	// Year is the release year (first-aired year for series), when known.
	Year int

	// OccurredAt is when the ingestion boundary received the event.
	OccurredAt time.Time
}

// ID returns the identifier for the given provider, or "" if absent.
func (e *PlaybackEvent) ID(p Provider) string {
	return e.IDs[p]
}

// HasID reports whether an identifier is known for the given provider.
func (e *PlaybackEvent) HasID(p Provider) bool {
	_, ok := e.IDs[p]
	return ok
}

// String returns a compact human-readable description for logging.
func (e *PlaybackEvent) String() string {
	if e.Kind == MediaKindEpisode {
		return fmt.Sprintf("%s S%02dE%02d (user %s)", e.SeriesTitle, e.Season, e.Episode, e.UserIdentity)
	}
	return fmt.Sprintf("%s (user %s)", e.Title, e.UserIdentity)
}
