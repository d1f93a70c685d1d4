// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package config loads and validates application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any scalar setting
//
// User account credentials can only come from the config file; the nested
// per-user map does not translate to flat environment variables.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
package config

import (
	"time"

	"github.com/tomtom215/watchbridge/internal/accounts"
	"github.com/tomtom215/watchbridge/internal/retry"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig          `koanf:"server"`
	Logging   LoggingConfig         `koanf:"logging"`
	RateLimit RateLimitConfig       `koanf:"rate_limit"`
	Retry     RetryConfig           `koanf:"retry"`
	Users     map[string]UserConfig `koanf:"users" validate:"dive"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_PORT: Listen port (default: 8787)
//   - HTTP_SHUTDOWN_TIMEOUT: Graceful shutdown deadline (default: 30s)
//   - PLEX_WEBHOOK_SECRET: Optional HMAC secret for Plex webhook signatures
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`

	// PlexWebhookSecret enables HMAC-SHA256 signature verification on the
	// Plex webhook endpoint when non-empty.
	PlexWebhookSecret string `koanf:"plex_webhook_secret"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RateLimitConfig holds the ingestion admission gate settings. A non-positive
// RequestsPerMinute disables limiting entirely.
type RateLimitConfig struct {
	RequestsPerMinute float64 `koanf:"requests_per_minute"`
	BurstSize         int     `koanf:"burst_size"`
}

// RetryConfig holds the backoff schedule applied to every backend sync.
type RetryConfig struct {
	MaxRetries    int           `koanf:"max_retries" validate:"min=0,max=20"`
	InitialDelay  time.Duration `koanf:"initial_delay" validate:"min=0"`
	MaxDelay      time.Duration `koanf:"max_delay" validate:"min=0"`
	BackoffFactor float64       `koanf:"backoff_factor" validate:"min=1"`
	Jitter        float64       `koanf:"jitter" validate:"min=0,max=1"`
}

// Policy converts the config section into an executable retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:    c.MaxRetries,
		InitialDelay:  c.InitialDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: c.BackoffFactor,
		Jitter:        c.Jitter,
	}
}

// UserConfig holds one media-server user's tracking-service credentials. The
// map key in Config.Users is the identity as the media server reports it
// (Plex usernames lowercase).
type UserConfig struct {
	TVTime *TVTimeCredentials `koanf:"tvtime"`
	Trakt  *TraktCredentials  `koanf:"trakt"`
}

// TVTimeCredentials holds TV Time username/password login.
type TVTimeCredentials struct {
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`
}

// TraktCredentials holds Trakt.tv OAuth2 authorization-code credentials.
type TraktCredentials struct {
	ClientID     string `koanf:"client_id" validate:"required"`
	ClientSecret string `koanf:"client_secret" validate:"required"`
	Code         string `koanf:"code" validate:"required"`
	RedirectURI  string `koanf:"redirect_uri"`
}

// AccountSets converts the user map into registry account sets. Within one
// user, TV Time precedes Trakt; dispatch reports outcomes in this order.
func (c *Config) AccountSets() []accounts.UserAccountSet {
	sets := make([]accounts.UserAccountSet, 0, len(c.Users))
	for identity, user := range c.Users {
		set := accounts.UserAccountSet{UserIdentity: identity}
		if user.TVTime != nil {
			set.Accounts = append(set.Accounts, accounts.TVTimeAccount{
				Username: user.TVTime.Username,
				Password: user.TVTime.Password,
			})
		}
		if user.Trakt != nil {
			redirect := user.Trakt.RedirectURI
			if redirect == "" {
				redirect = defaultTraktRedirectURI
			}
			set.Accounts = append(set.Accounts, accounts.TraktAccount{
				ClientID:     user.Trakt.ClientID,
				ClientSecret: user.Trakt.ClientSecret,
				Code:         user.Trakt.Code,
				RedirectURI:  redirect,
			})
		}
		sets = append(sets, set)
	}
	return sets
}

// defaultTraktRedirectURI is the out-of-band URI used by device-style
// authorization flows, matching what Trakt suggests for script clients.
const defaultTraktRedirectURI = "urn:ietf:wg:oauth:2.0:oob"
