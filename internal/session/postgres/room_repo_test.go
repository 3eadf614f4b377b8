// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableside/tableside/internal/session"
	"github.com/tableside/tableside/pkg/errutil"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *RoomRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, NewRoomRepository(mock)
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "rooms_code_key"}
}

func testRoom() *session.Room {
	return &session.Room{
		ID:              "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Code:            "TABLE-A1B2",
		Status:          session.RoomActive,
		SessionNumber:   1,
		OwnerIdentityID: "user-1",
		CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRoomRepository_Create(t *testing.T) {
	t.Run("inserts room", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		room := testRoom()
		mock.ExpectExec(`INSERT INTO rooms`).
			WithArgs(room.ID, room.Code, "active", 1, pgxmock.AnyArg(), room.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(context.Background(), room))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("code collision maps to ErrCodeTaken", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		room := testRoom()
		mock.ExpectExec(`INSERT INTO rooms`).
			WithArgs(room.ID, room.Code, "active", 1, pgxmock.AnyArg(), room.CreatedAt).
			WillReturnError(uniqueViolation())

		err := repo.Create(context.Background(), room)
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrCodeTaken)
		errutil.AssertErrorCode(t, err, "ROOM_CODE_TAKEN")
	})

	t.Run("other database error", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		room := testRoom()
		mock.ExpectExec(`INSERT INTO rooms`).
			WithArgs(room.ID, room.Code, "active", 1, pgxmock.AnyArg(), room.CreatedAt).
			WillReturnError(errors.New("connection refused"))

		err := repo.Create(context.Background(), room)
		require.Error(t, err)
		assert.NotErrorIs(t, err, session.ErrCodeTaken)
		errutil.AssertErrorCode(t, err, "ROOM_CREATE_FAILED")
	})
}

func TestRoomRepository_GetByCode(t *testing.T) {
	t.Run("resolves code", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		owner := "user-1"
		rows := pgxmock.NewRows([]string{"id", "code", "status", "session_number", "owner_identity_id", "created_at"}).
			AddRow("room-1", "TABLE-A1B2", "active", 2, &owner, time.Now())
		mock.ExpectQuery(`FROM rooms WHERE UPPER\(code\) = UPPER\(\$1\)`).
			WithArgs("TABLE-A1B2").
			WillReturnRows(rows)

		room, err := repo.GetByCode(context.Background(), "TABLE-A1B2")
		require.NoError(t, err)
		assert.Equal(t, "room-1", room.ID)
		assert.Equal(t, session.RoomActive, room.Status)
		assert.Equal(t, 2, room.SessionNumber)
		assert.Equal(t, "user-1", room.OwnerIdentityID)
	})

	t.Run("unknown code", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`FROM rooms WHERE UPPER\(code\) = UPPER\(\$1\)`).
			WithArgs("TABLE-ZZZZ").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByCode(context.Background(), "TABLE-ZZZZ")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrRoomNotFound)
		errutil.AssertErrorCode(t, err, "ROOM_NOT_FOUND")
	})
}

func TestRoomRepository_Get(t *testing.T) {
	mock, repo := newMockRepo(t)
	rows := pgxmock.NewRows([]string{"id", "code", "status", "session_number", "owner_identity_id", "created_at"}).
		AddRow("room-1", "TABLE-A1B2", "paused", 1, (*string)(nil), time.Now())
	mock.ExpectQuery(`FROM rooms WHERE id = \$1`).
		WithArgs("room-1").
		WillReturnRows(rows)

	room, err := repo.Get(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, session.RoomPaused, room.Status)
	assert.Empty(t, room.OwnerIdentityID)
}

func TestRoomRepository_SetStatus(t *testing.T) {
	t.Run("updates status", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec(`UPDATE rooms SET status`).
			WithArgs("room-1", "paused").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.SetStatus(context.Background(), "room-1", session.RoomPaused))
	})

	t.Run("missing room", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec(`UPDATE rooms SET status`).
			WithArgs("room-1", "archived").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SetStatus(context.Background(), "room-1", session.RoomArchived)
		assert.ErrorIs(t, err, session.ErrRoomNotFound)
	})
}

func TestRoomRepository_Reactivate(t *testing.T) {
	t.Run("rotates code and returns new session number", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		rows := pgxmock.NewRows([]string{"session_number"}).AddRow(3)
		mock.ExpectQuery(`UPDATE rooms`).
			WithArgs("room-1", "TABLE-C3D4").
			WillReturnRows(rows)

		next, err := repo.Reactivate(context.Background(), "room-1", "TABLE-C3D4")
		require.NoError(t, err)
		assert.Equal(t, 3, next)
	})

	t.Run("rotated code collision", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`UPDATE rooms`).
			WithArgs("room-1", "TABLE-C3D4").
			WillReturnError(uniqueViolation())

		_, err := repo.Reactivate(context.Background(), "room-1", "TABLE-C3D4")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrCodeTaken)
	})

	t.Run("missing room", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`UPDATE rooms`).
			WithArgs("room-1", "TABLE-C3D4").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Reactivate(context.Background(), "room-1", "TABLE-C3D4")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrRoomNotFound)
	})
}
