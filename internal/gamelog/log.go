// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package gamelog persists the append-only session event log.
package gamelog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Category classifies log entries.
type Category string

const (
	// CategoryLoot records loot grants.
	CategoryLoot Category = "loot"
	// CategorySystem records host/system actions.
	CategorySystem Category = "system"
)

// Entry is one append-only log line for a room.
type Entry struct {
	RoomID     string
	ActorLabel string
	Message    string
	Category   Category
	CreatedAt  time.Time
}

// Repository provides append and read access to the session log.
type Repository interface {
	Append(ctx context.Context, entry Entry) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]Entry, error)
}

// DefaultLimit caps ListByRoom when callers pass a non-positive limit.
const DefaultLimit = 100

// Pool abstracts pgxpool.Pool so the repository can be unit tested with pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool Pool
}

// NewPostgresRepository creates a new PostgreSQL game log repository.
func NewPostgresRepository(pool Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Append writes one entry. Entries are never updated or deleted.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO game_logs (room_id, player_name, message, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.RoomID, entry.ActorLabel, entry.Message, string(entry.Category), createdAt)
	if err != nil {
		return oops.Code("GAMELOG_APPEND_FAILED").With("room_id", entry.RoomID).Wrap(err)
	}
	return nil
}

// ListByRoom returns the most recent entries for a room, newest first.
func (r *PostgresRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, player_name, message, type, created_at
		FROM game_logs WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, oops.Code("GAMELOG_QUERY_FAILED").With("room_id", roomID).Wrap(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var category string
		if err := rows.Scan(&entry.RoomID, &entry.ActorLabel, &entry.Message, &category, &entry.CreatedAt); err != nil {
			return nil, oops.Code("GAMELOG_SCAN_FAILED").Wrap(err)
		}
		entry.Category = Category(category)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GAMELOG_ITERATE_FAILED").Wrap(err)
	}
	return entries, nil
}
