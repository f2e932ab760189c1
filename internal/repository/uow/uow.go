// Package uow runs a group of repository writes in one Postgres transaction.
package uow

import (
	"context"
	"fmt"

	"coursecart/internal/repository/cart"
	"coursecart/internal/repository/enrollment"
	"coursecart/internal/repository/outbox"
	"coursecart/internal/repository/session"
	"coursecart/internal/repository/transaction"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repos are bound to a single transaction.
type Repos struct {
	Carts        cart.TxRepository
	Transactions transaction.Repository
	Enrollments  enrollment.Repository
	Outbox       outbox.Repository
	Sessions     session.Repository
}

// UnitOfWork commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type postgresUnit struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) UnitOfWork {
	return &postgresUnit{pool: pool}
}

func (u *postgresUnit) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	repos := Repos{
		Carts:        cart.NewTxScoped(tx),
		Transactions: transaction.NewPostgres(tx),
		Enrollments:  enrollment.NewPostgres(tx),
		Outbox:       outbox.NewPostgres(tx),
		Sessions:     session.NewPostgres(tx),
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
