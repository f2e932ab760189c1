package transaction

import (
	"context"
	"errors"

	"coursecart/internal/db"
	"coursecart/internal/domain"
	"github.com/jackc/pgx/v5"
)

const columns = `id::text, user_id, cart_id::text, amount_cents, currency, external_id, method, status, created_at, updated_at`

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) Insert(ctx context.Context, in domain.Transaction) (*domain.Transaction, error) {
	q := `
INSERT INTO transactions (user_id, cart_id, amount_cents, currency, external_id, method, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + columns
	out, err := scan(r.q.QueryRow(ctx, q, in.UserID, in.CartID, in.AmountCents, in.Currency, in.ExternalID, in.Method, in.Status))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	out, err := scan(r.q.QueryRow(ctx, `SELECT `+columns+` FROM transactions WHERE external_id = $1`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) UpdateStatus(ctx context.Context, externalID string, status domain.TransactionStatus) error {
	cmd, err := r.q.Exec(ctx, `
UPDATE transactions
SET status = $2,
    updated_at = now()
WHERE external_id = $1 AND status <> 'completed'
`, externalID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
SELECT `+columns+`
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Transaction{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func scan(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.CartID,
		&t.AmountCents,
		&t.Currency,
		&t.ExternalID,
		&t.Method,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
