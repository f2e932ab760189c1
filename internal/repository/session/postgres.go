package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coursecart/internal/db"
	"coursecart/internal/domain"
	"github.com/jackc/pgx/v5"
)

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) Create(ctx context.Context, s domain.CheckoutSession) error {
	lines := s.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal session lines: %w", err)
	}
	_, err = r.q.Exec(ctx, `
INSERT INTO checkout_sessions (external_id, user_id, cart_id, amount_cents, lines, redirect_url, success_url, cancel_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, s.ExternalID, s.UserID, s.CartID, s.AmountCents, linesJSON, s.RedirectURL, s.SuccessURL, s.CancelURL)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *postgresRepo) Get(ctx context.Context, externalID string) (*domain.CheckoutSession, error) {
	var (
		s         domain.CheckoutSession
		linesJSON []byte
	)
	err := r.q.QueryRow(ctx, `
SELECT external_id, user_id, cart_id::text, amount_cents, lines, redirect_url, success_url, cancel_url, created_at
FROM checkout_sessions
WHERE external_id = $1
`, externalID).Scan(&s.ExternalID, &s.UserID, &s.CartID, &s.AmountCents, &linesJSON, &s.RedirectURL, &s.SuccessURL, &s.CancelURL, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &s.Lines); err != nil {
		return nil, fmt.Errorf("decode session lines: %w", err)
	}
	return &s, nil
}
