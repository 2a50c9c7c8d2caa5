package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxFunc runs inside a transaction; returning an error rolls it back.
type TxFunc func(ctxTx context.Context, tx Transaction) error

// TxManager opens transactions on the primary pool.
type TxManager interface {
	// RunMaster is read committed, used for writes.
	RunMaster(ctx context.Context, fn TxFunc) error
	// RunRepeatableRead gives fn one consistent snapshot.
	RunRepeatableRead(ctx context.Context, fn TxFunc) error
}

// Transaction is the part of pgx.Tx the repositories use.
type Transaction interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
