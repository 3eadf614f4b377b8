// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package postgres implements the remote character store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/tableside/tableside/internal/character"
	"github.com/tableside/tableside/internal/ids"
)

// Pool abstracts pgxpool.Pool so repositories can be unit tested with pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordRepository implements character.Store using PostgreSQL.
type RecordRepository struct {
	pool Pool
}

// NewRecordRepository creates a new PostgreSQL character repository.
func NewRecordRepository(pool Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Insert persists a new character record and returns its generated id.
// ownerIdentityID and roomID may be empty for guest or unattached records.
func (r *RecordRepository) Insert(ctx context.Context, ownerIdentityID, roomID string, payload character.Payload) (string, error) {
	id := ids.NewULID().String()
	data, err := json.Marshal(payload)
	if err != nil {
		return "", oops.Code("CHARACTER_MARSHAL_FAILED").Wrap(err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO characters (id, user_id, room_id, character_data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, emptyToNull(ownerIdentityID), emptyToNull(roomID), data)
	if err != nil {
		return "", oops.Code("CHARACTER_INSERT_FAILED").With("id", id).Wrap(err)
	}
	return id, nil
}

// Update replaces the full character document. Callers merge before calling.
func (r *RecordRepository) Update(ctx context.Context, id string, payload character.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("CHARACTER_MARSHAL_FAILED").With("id", id).Wrap(err)
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE characters SET character_data = $2, updated_at = NOW() WHERE id = $1
	`, id, data)
	if err != nil {
		return oops.Code("CHARACTER_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CHARACTER_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}
	return nil
}

// Get retrieves a character record by id.
func (r *RecordRepository) Get(ctx context.Context, id string) (*character.Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, room_id, character_data, updated_at
		FROM characters WHERE id = $1
	`, id)
	rec, err := scanRecordRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CHARACTER_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CHARACTER_GET_FAILED").With("id", id).Wrap(err)
	}
	return rec, nil
}

// FetchByRoom retrieves all character records attached to a room.
func (r *RecordRepository) FetchByRoom(ctx context.Context, roomID string) ([]*character.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, room_id, character_data, updated_at
		FROM characters WHERE room_id = $1
		ORDER BY updated_at
	`, roomID)
	if err != nil {
		return nil, oops.Code("CHARACTER_QUERY_FAILED").With("room_id", roomID).Wrap(err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FetchByOwner retrieves all character records owned by an identity.
func (r *RecordRepository) FetchByOwner(ctx context.Context, ownerIdentityID string) ([]*character.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, room_id, character_data, updated_at
		FROM characters WHERE user_id = $1
		ORDER BY updated_at DESC
	`, ownerIdentityID)
	if err != nil {
		return nil, oops.Code("CHARACTER_QUERY_FAILED").With("user_id", ownerIdentityID).Wrap(err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// AttachToRoom binds a record to a room.
func (r *RecordRepository) AttachToRoom(ctx context.Context, id, roomID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE characters SET room_id = $2, updated_at = NOW() WHERE id = $1
	`, id, roomID)
	if err != nil {
		return oops.Code("CHARACTER_ATTACH_FAILED").With("id", id).With("room_id", roomID).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CHARACTER_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}
	return nil
}

// DetachFromRoom clears a record's room attachment without deleting it.
func (r *RecordRepository) DetachFromRoom(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE characters SET room_id = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("CHARACTER_DETACH_FAILED").With("id", id).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CHARACTER_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}
	return nil
}

// Delete removes a character record by id.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id)
	if err != nil {
		return oops.Code("CHARACTER_DELETE_FAILED").With("id", id).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CHARACTER_NOT_FOUND").With("id", id).Wrap(character.ErrNotFound)
	}
	return nil
}

// scanRecordRow scans a single record from a row.
func scanRecordRow(row pgx.Row) (*character.Record, error) {
	var rec character.Record
	var userID, roomID *string
	var data []byte

	err := row.Scan(&rec.ID, &userID, &roomID, &data, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		rec.OwnerIdentityID = *userID
	}
	if roomID != nil {
		rec.SessionRoomID = *roomID
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Payload); err != nil {
			return nil, oops.Code("CHARACTER_PAYLOAD_CORRUPT").With("id", rec.ID).Wrap(err)
		}
	}
	return &rec, nil
}

// scanRecords scans all records from a result set.
func scanRecords(rows pgx.Rows) ([]*character.Record, error) {
	var records []*character.Record
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, oops.Code("CHARACTER_SCAN_FAILED").Wrap(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("CHARACTER_ITERATE_FAILED").Wrap(err)
	}
	return records, nil
}

// emptyToNull converts an empty string to a NULL SQL parameter.
func emptyToNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
