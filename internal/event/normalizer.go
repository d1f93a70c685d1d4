// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package event

import (
	"strings"
	"time"

	"github.com/tomtom215/watchbridge/internal/models"
)

// Normalize converts a parsed vendor webhook payload into a canonical
// PlaybackEvent. The raw record must be the payload type matching the source
// (*models.PlexWebhook for SourcePlex, *models.JellyfinWebhook for
// SourceJellyfin). receivedAt stamps the event's OccurredAt; passing it in
// keeps Normalize deterministic.
//
// Returns ErrIgnoredEvent for records that are not watched signals, and
// *MalformedEventError for watched signals missing the user identity or all
// media identifiers. Normalize has no side effects and never returns a
// partial event alongside an error.
func Normalize(raw any, source Source, receivedAt time.Time) (*PlaybackEvent, error) {
	switch source {
	case SourcePlex:
		hook, ok := raw.(*models.PlexWebhook)
		if !ok {
			return nil, &MalformedEventError{Source: source, Reason: "unexpected payload type"}
		}
		return normalizePlex(hook, receivedAt)

	case SourceJellyfin:
		hook, ok := raw.(*models.JellyfinWebhook)
		if !ok {
			return nil, &MalformedEventError{Source: source, Reason: "unexpected payload type"}
		}
		return normalizeJellyfin(hook, receivedAt)

	default:
		return nil, &MalformedEventError{Source: source, Reason: "unknown source"}
	}
}

// normalizePlex handles Plex webhook payloads. Only media.scrobble events
// count as watched signals; Plex emits scrobble once playback passes the
// watched threshold (75%).
func normalizePlex(hook *models.PlexWebhook, receivedAt time.Time) (*PlaybackEvent, error) {
	if hook.Event != "media.scrobble" {
		return nil, ErrIgnoredEvent
	}

	if hook.Metadata == nil {
		return nil, &MalformedEventError{Source: SourcePlex, Reason: "metadata missing"}
	}

	// Plex usernames are matched lowercase against the configured registry.
	user := strings.ToLower(strings.TrimSpace(hook.Account.Title))
	if user == "" {
		return nil, &MalformedEventError{Source: SourcePlex, Reason: "user missing"}
	}

	ids := make(map[Provider]string)
	for _, guid := range hook.Metadata.GUIDs {
		provider, id, ok := guid.Provider()
		if !ok {
			continue
		}
		switch Provider(provider) {
		case ProviderIMDB, ProviderTVDB, ProviderTMDB:
			ids[Provider(provider)] = id
		}
	}
	if len(ids) == 0 {
		return nil, &MalformedEventError{Source: SourcePlex, Reason: "no media identifiers"}
	}

	meta := hook.Metadata
	ev := &PlaybackEvent{
		UserIdentity: user,
		IDs:          ids,
		Year:         meta.Year,
		OccurredAt:   receivedAt,
	}

	switch meta.LibrarySectionType {
	case "show":
		ev.Kind = MediaKindEpisode
		ev.SeriesTitle = meta.GrandparentTitle
		ev.Title = meta.Title
		ev.Season = meta.ParentIndex
		ev.Episode = meta.Index
		if ev.SeriesTitle == "" {
			return nil, &MalformedEventError{Source: SourcePlex, Reason: "series title missing"}
		}
	case "movie":
		ev.Kind = MediaKindMovie
		ev.Title = meta.Title
		if ev.Title == "" {
			return nil, &MalformedEventError{Source: SourcePlex, Reason: "title missing"}
		}
	default:
		return nil, ErrIgnoredEvent
	}

	return ev, nil
}

// normalizeJellyfin handles Jellyfin webhook-plugin payloads. Only
// PlaybackStop events with played_to_completion count as watched signals.
func normalizeJellyfin(hook *models.JellyfinWebhook, receivedAt time.Time) (*PlaybackEvent, error) {
	if !hook.IsWatched() {
		return nil, ErrIgnoredEvent
	}

	user := strings.TrimSpace(hook.Username)
	if user == "" {
		return nil, &MalformedEventError{Source: SourceJellyfin, Reason: "user missing"}
	}

	ids := make(map[Provider]string)
	if hook.TVDBID != "" {
		ids[ProviderTVDB] = hook.TVDBID
	}
	if hook.TMDBID != "" {
		ids[ProviderTMDB] = hook.TMDBID
	}
	if hook.IMDBID != "" {
		ids[ProviderIMDB] = hook.IMDBID
	}
	if len(ids) == 0 {
		return nil, &MalformedEventError{Source: SourceJellyfin, Reason: "no media identifiers"}
	}

	ev := &PlaybackEvent{
		UserIdentity: user,
		IDs:          ids,
		Year:         hook.Year,
		OccurredAt:   receivedAt,
	}

	switch strings.ToLower(hook.ItemType) {
	case "episode":
		ev.Kind = MediaKindEpisode
		ev.SeriesTitle = hook.SeriesName
		ev.Title = hook.Title
		ev.Season = hook.SeasonNumber
		ev.Episode = hook.EpisodeNumber
		if ev.SeriesTitle == "" {
			return nil, &MalformedEventError{Source: SourceJellyfin, Reason: "series title missing"}
		}
	case "movie":
		ev.Kind = MediaKindMovie
		ev.Title = hook.Title
		if ev.Title == "" {
			return nil, &MalformedEventError{Source: SourceJellyfin, Reason: "title missing"}
		}
	default:
		return nil, ErrIgnoredEvent
	}

	return ev, nil
}
