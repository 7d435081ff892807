// Package db provides the minimal data-access abstraction shared by every
// store in this module: a DBTX interface satisfied by both a pgxpool.Pool
// and a pgx.Tx, so stores can run unchanged inside or outside a transaction.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool / pgx.Tx / pgx.Conn that hand-rolled
// SQL stores need.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNoRows is re-exported so stores can compare against it without
// importing pgx directly.
var ErrNoRows = pgx.ErrNoRows
