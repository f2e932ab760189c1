// Package dbtest wires Postgres integration tests. Tests are skipped unless
// TEST_DB_DSN points at a disposable database.
package dbtest

import (
	"context"
	"os"
	"testing"

	"coursecart/internal/migrate"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tables = `payment_callbacks, outbox, tokens, enrollments, transactions, checkout_sessions, cart_lines, carts, courses`

// Pool connects to TEST_DB_DSN, applies migrations and truncates every table.
// The pool is closed when the test finishes.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE `+tables+` RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return pool
}

// InsertCourse adds a catalog row and returns its id.
func InsertCourse(t *testing.T, pool *pgxpool.Pool, key, title string, priceCents int64) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), `
INSERT INTO courses (key, title, price_cents, currency)
VALUES ($1, $2, $3, 'IDR')
RETURNING id::text
`, key, title, priceCents).Scan(&id)
	if err != nil {
		t.Fatalf("insert course: %v", err)
	}
	return id
}
