package database

import (
	"context"
	"fmt"
)

// Tx is the transaction surface the services depend on. pgx.Tx satisfies it.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts transactions. *DB implements it for Postgres; tests
// substitute in-memory fakes.
type Beginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// BeginTx starts a new transaction on the pool.
func (db *DB) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
