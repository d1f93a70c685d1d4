// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package accounts

import "sync"

// Registry resolves user identities to their configured backend accounts.
//
// Usernames are matched verbatim, case included. Operators configure the
// exact identity their media server reports (the Plex normalizer lowercases
// before lookup), and this matching behavior is part of the observed contract
// with existing configurations. Do not "fix" it with case folding.
//
// The registry is read-only during dispatch. Configuration reload replaces
// the whole user map atomically via Replace; entries are never mutated in
// place while a lookup can observe them.
type Registry struct {
	mu    sync.RWMutex
	users map[string]UserAccountSet
}

// NewRegistry builds a registry from the given account sets. Later sets with
// a duplicate user identity override earlier ones.
func NewRegistry(sets []UserAccountSet) *Registry {
	r := &Registry{}
	r.Replace(sets)
	return r
}

// Resolve returns the account set for the given user identity. The second
// return value is false when no configuration exists for that user; callers
// treat this as "nothing to do", not a failure.
func (r *Registry) Resolve(userIdentity string) (UserAccountSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.users[userIdentity]
	return set, ok
}

// Replace swaps the entire user map atomically. In-flight Resolve calls see
// either the old or the new map, never a partial state.
func (r *Registry) Replace(sets []UserAccountSet) {
	users := make(map[string]UserAccountSet, len(sets))
	for _, set := range sets {
		users[set.UserIdentity] = set
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
}

// Len returns the number of configured users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
