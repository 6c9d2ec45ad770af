package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so statements can
// run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps credit balances in user_credits and settled payments in
// credit_transactions.
type PgStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgStore(db *pgxpool.Pool, logger *slog.Logger) *PgStore {
	return &PgStore{db: db, logger: logger.With("component", "credit_store_pg")}
}

func (r *PgStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PgStore) Close() error {
	r.db.Close()
	return nil
}
