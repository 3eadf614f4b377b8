// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package session implements session rooms: creation, join codes, the
// participant/host attachment protocol, and room lifecycle.
package session

import "time"

// RoomStatus is the lifecycle state of a session room.
type RoomStatus string

const (
	// RoomActive accepts joins.
	RoomActive RoomStatus = "active"
	// RoomPaused stops accepting joins without destroying history.
	RoomPaused RoomStatus = "paused"
	// RoomArchived is the terminal soft-delete state. An archived room's
	// code is never freed for reuse.
	RoomArchived RoomStatus = "archived"
)

// Room is a host-owned session grouping with a human-shareable join code.
type Room struct {
	ID              string
	Code            string
	Status          RoomStatus
	SessionNumber   int
	OwnerIdentityID string // empty for guest/ephemeral rooms
	CreatedAt       time.Time
}

// Joinable reports whether participants may currently join the room.
func (r *Room) Joinable() bool {
	return r.Status == RoomActive
}
