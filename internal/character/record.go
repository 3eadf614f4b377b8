// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package character defines the synchronized unit of player state and the
// operations that move it between the device store and the backend.
package character

import (
	"encoding/json"
	"reflect"
	"time"
)

// Payload is the opaque game-state document carried by a record. The sync
// core never interprets its shape beyond value equality; game rules read
// and write it through their own helpers.
type Payload map[string]any

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		// A payload always originates from JSON, so marshal cannot fail
		// unless a caller stored a non-JSON value. Treat that as empty.
		return Payload{}
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return Payload{}
	}
	return out
}

// Equal reports whether two payloads hold the same document by deep value
// comparison. This is the check that keeps a device's own echoed write from
// re-triggering a local replace.
func (p Payload) Equal(other Payload) bool {
	if len(p) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(normalize(p), normalize(other))
}

// normalize round-trips a payload through JSON so that numeric types
// (int vs float64) compare equal regardless of where the document came from.
func normalize(p Payload) Payload {
	data, err := json.Marshal(p)
	if err != nil {
		return p
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return p
	}
	return out
}

// Record is a character record. ID is empty for records that exist only
// locally and have never been materialized in the backend.
type Record struct {
	ID              string
	OwnerIdentityID string // empty when unauthenticated
	SessionRoomID   string // empty when not attached to a room
	Payload         Payload
	UpdatedAt       time.Time
}

// HasRemoteIdentity reports whether the record has a backend row.
func (r *Record) HasRemoteIdentity() bool {
	return r.ID != ""
}

// Attached reports whether the record is attached to a session room.
func (r *Record) Attached() bool {
	return r.SessionRoomID != ""
}

// Name returns the display name stored in the payload, or empty.
func (r *Record) Name() string {
	if r.Payload == nil {
		return ""
	}
	name, _ := r.Payload["name"].(string)
	return name
}

// SetupComplete reports whether the payload is marked as fully set up.
// Only completed records are projected into the profile index.
func (r *Record) SetupComplete() bool {
	if r.Payload == nil {
		return false
	}
	done, _ := r.Payload["setupComplete"].(bool)
	return done
}
