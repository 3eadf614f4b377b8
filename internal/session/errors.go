// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package session

import "errors"

var (
	// ErrRoomNotFound is returned when a code or room id does not resolve
	// to a joinable room. Surfaced immediately, never retried.
	ErrRoomNotFound = errors.New("room not found")

	// ErrCodeTaken is returned when a generated code collides with an
	// existing room. Creation retries with a fresh code.
	ErrCodeTaken = errors.New("room code already taken")

	// ErrInvalidInput is returned before any network call when join or
	// create input is malformed (empty name, malformed code).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned for lifecycle changes the room's
	// current status does not permit.
	ErrInvalidTransition = errors.New("invalid room status transition")

	// ErrNotAttached is returned when leave is called with no attachment.
	ErrNotAttached = errors.New("not attached to a room")
)
