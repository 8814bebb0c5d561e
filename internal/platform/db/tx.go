package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const txKey contextKey = "db_tx"

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx begins a transaction and returns a context carrying it, so
// repositories routed through conn(ctx) participate automatically.
func WithTx(ctx context.Context, db Beginner) (context.Context, pgx.Tx, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey, tx), tx, nil
}

// TxFromContext retrieves the in-flight transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
