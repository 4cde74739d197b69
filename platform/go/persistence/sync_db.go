package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txBeginner exposes the minimal pgx pool behaviour needed by SyncDB.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// SyncDB wraps a pgx pool to run multi-row mutations atomically. The
// transaction handle is passed to the unit-of-work function as an argument;
// it is never stored on a store or service instance.
type SyncDB struct {
	pool txBeginner
}

// NewSyncDB constructs a SyncDB over the shared pool.
func NewSyncDB(pool *pgxpool.Pool) *SyncDB {
	if pool == nil {
		panic("SyncDB requires pool")
	}
	return &SyncDB{pool: pool}
}

// WithTx executes fn inside a single transaction, committing on success and
// rolling back on error. The pay-invoice flow is the one caller that needs
// multi-row scope (status flip + payment record + audit entry).
func (db *SyncDB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
