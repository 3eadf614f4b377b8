// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package ids generates and classifies the identifiers used across Tableside.
//
// Remote-backed records carry bare ULIDs assigned by the backend path.
// Records that exist only on a device carry a "local-" prefixed ULID so
// that routing code can tell the two storage tiers apart by id shape.
package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// LocalPrefix marks identifiers of records that live only in the device store.
const LocalPrefix = "local-"

// NewULID generates a new ULID.
func NewULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return id, nil
}

// NewLocalID generates an identifier for a device-only record.
func NewLocalID() string {
	return LocalPrefix + NewULID().String()
}

// IsLocal reports whether id names a device-only record.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}
