// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/watchbridge/internal/validation"
)

// Validate checks that the configuration is internally consistent. Struct
// tags cover the scalar ranges; the user map needs manual checks because its
// shape (at least one backend per user) is not expressible as a field tag.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay (%s) must be >= retry.initial_delay (%s)",
			c.Retry.MaxDelay, c.Retry.InitialDelay)
	}

	return c.validateUsers()
}

func (c *Config) validateUsers() error {
	for identity, user := range c.Users {
		if identity == "" {
			return errors.New("users must be keyed by a non-empty media-server username")
		}
		if user.TVTime == nil && user.Trakt == nil {
			return fmt.Errorf("user %q has no tracking service configured", identity)
		}
	}
	return nil
}
