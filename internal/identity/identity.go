// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package identity exposes the current authenticated identity. Credential
// management lives in an external provider; the core only ever reads the
// opaque identity id.
package identity

import "context"

// Provider reports the current identity, if any.
type Provider interface {
	// CurrentIdentity returns the opaque identity id and true when an
	// identity is signed in, or "" and false otherwise.
	CurrentIdentity(ctx context.Context) (string, bool)
}

// Static is a fixed-identity Provider, used for guest mode (empty id) and
// in tests.
type Static struct {
	ID string
}

// CurrentIdentity implements Provider.
func (s Static) CurrentIdentity(context.Context) (string, bool) {
	return s.ID, s.ID != ""
}
