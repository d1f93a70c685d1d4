// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package accounts holds per-user tracking-service credentials and the
// registry that resolves a media-server username to its configured backends.
//
// The account variant set is closed: adding a tracking service means adding a
// variant here and a matching backends.Client implementation. Dispatch logic
// never changes.
package accounts

import "fmt"

// ServiceKind identifies a tracking service backend.
type ServiceKind string

const (
	// ServiceTVTime is the TV Time tracking service.
	ServiceTVTime ServiceKind = "tvtime"

	// ServiceTrakt is the Trakt.tv tracking service.
	ServiceTrakt ServiceKind = "trakt"
)

// BackendAccount is one user's credentials for a single tracking service.
// The interface is sealed; only the variants in this package implement it.
type BackendAccount interface {
	// Service returns which tracking service this account belongs to.
	Service() ServiceKind

	sealed()
}

// TVTimeAccount holds TV Time username/password credentials.
type TVTimeAccount struct {
	Username string
	Password string
}

func (TVTimeAccount) Service() ServiceKind { return ServiceTVTime }
func (TVTimeAccount) sealed()              {}

// String implements fmt.Stringer without leaking the password.
func (a TVTimeAccount) String() string {
	return fmt.Sprintf("tvtime account %s", a.Username)
}

// TraktAccount holds Trakt.tv OAuth2 authorization-code credentials.
type TraktAccount struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

func (TraktAccount) Service() ServiceKind { return ServiceTrakt }
func (TraktAccount) sealed()              {}

// String implements fmt.Stringer without leaking secrets.
func (a TraktAccount) String() string {
	return fmt.Sprintf("trakt account (client %s)", a.ClientID)
}

// UserAccountSet is the ordered set of backend accounts configured for one
// user. Order matches configuration order; dispatch reports outcomes in this
// order so operators see a stable summary.
type UserAccountSet struct {
	UserIdentity string
	Accounts     []BackendAccount
}

// Empty reports whether the user has no configured backends.
func (s UserAccountSet) Empty() bool {
	return len(s.Accounts) == 0
}
