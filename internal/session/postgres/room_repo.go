// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package postgres implements the session registry on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/session"
)

// Pool abstracts pgxpool.Pool so the repository can be unit tested with pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RoomRepository implements session.RoomRepository using PostgreSQL.
type RoomRepository struct {
	pool Pool
}

// NewRoomRepository creates a new PostgreSQL room repository.
func NewRoomRepository(pool Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// Create inserts a room row. A code collision with any existing room
// (active, paused, or archived — codes are never reused) surfaces as
// session.ErrCodeTaken so callers can retry with a fresh code.
func (r *RoomRepository) Create(ctx context.Context, room *session.Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, code, status, session_number, owner_identity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.Code, string(room.Status), room.SessionNumber,
		emptyToNull(room.OwnerIdentityID), room.CreatedAt)
	if isUniqueViolation(err) {
		return oops.Code("ROOM_CODE_TAKEN").With("code", room.Code).Wrap(session.ErrCodeTaken)
	}
	if err != nil {
		return oops.Code("ROOM_CREATE_FAILED").With("id", room.ID).Wrap(err)
	}
	return nil
}

// GetByCode resolves a normalized code. Archived rooms never resolve: an
// archived code is dead, not recycled.
func (r *RoomRepository) GetByCode(ctx context.Context, code string) (*session.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, status, session_number, owner_identity_id, created_at
		FROM rooms WHERE UPPER(code) = UPPER($1) AND status != 'archived'
	`, code)
	room, err := scanRoomRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROOM_NOT_FOUND").With("code", code).Wrap(session.ErrRoomNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROOM_LOOKUP_FAILED").With("code", code).Wrap(err)
	}
	return room, nil
}

// Get retrieves a room by id.
func (r *RoomRepository) Get(ctx context.Context, id string) (*session.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, status, session_number, owner_identity_id, created_at
		FROM rooms WHERE id = $1
	`, id)
	room, err := scanRoomRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROOM_NOT_FOUND").With("id", id).Wrap(session.ErrRoomNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROOM_LOOKUP_FAILED").With("id", id).Wrap(err)
	}
	return room, nil
}

// SetStatus updates the room's lifecycle status.
func (r *RoomRepository) SetStatus(ctx context.Context, id string, status session.RoomStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE rooms SET status = $2 WHERE id = $1
	`, id, string(status))
	if err != nil {
		return oops.Code("ROOM_STATUS_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ROOM_NOT_FOUND").With("id", id).Wrap(session.ErrRoomNotFound)
	}
	return nil
}

// Reactivate rotates the code, bumps the session number, and activates the
// room in one statement. Returns the new session number.
func (r *RoomRepository) Reactivate(ctx context.Context, id, newCode string) (int, error) {
	var sessionNumber int
	err := r.pool.QueryRow(ctx, `
		UPDATE rooms
		SET code = $2, status = 'active', session_number = session_number + 1
		WHERE id = $1
		RETURNING session_number
	`, id, newCode).Scan(&sessionNumber)
	if isUniqueViolation(err) {
		return 0, oops.Code("ROOM_CODE_TAKEN").With("code", newCode).Wrap(session.ErrCodeTaken)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code("ROOM_NOT_FOUND").With("id", id).Wrap(session.ErrRoomNotFound)
	}
	if err != nil {
		return 0, oops.Code("ROOM_REACTIVATE_FAILED").With("id", id).Wrap(err)
	}
	return sessionNumber, nil
}

// scanRoomRow scans a single room from a row.
func scanRoomRow(row pgx.Row) (*session.Room, error) {
	var room session.Room
	var status string
	var owner *string

	err := row.Scan(&room.ID, &room.Code, &status, &room.SessionNumber, &owner, &room.CreatedAt)
	if err != nil {
		return nil, err
	}
	room.Status = session.RoomStatus(status)
	if owner != nil {
		room.OwnerIdentityID = *owner
	}
	return &room, nil
}

// isUniqueViolation reports whether err is a Postgres unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// emptyToNull converts an empty string to a NULL SQL parameter.
func emptyToNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
