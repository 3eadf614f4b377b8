// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package store provides backend connectivity: the pgx pool, schema
// migrations, and the characters change feed.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// NewPool connects a pgx pool to the backend and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_PING_FAILED").Wrap(err)
	}
	return pool, nil
}
