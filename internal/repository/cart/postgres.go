package cart

import (
	"context"
	"errors"
	"fmt"

	"coursecart/internal/db"
	"coursecart/internal/domain"
	"github.com/jackc/pgx/v5"
)

const cartColumns = `id::text, user_id, active, created_at, deactivated_at`

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

// NewTxScoped must be given a pgx.Tx; the rotation methods assume they run
// inside one.
func NewTxScoped(q db.Querier) TxRepository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) GetOrCreateActive(ctx context.Context, userID string) (*domain.Cart, error) {
	const insert = `
INSERT INTO carts (user_id, active)
VALUES ($1, TRUE)
ON CONFLICT (user_id) WHERE active DO NOTHING
`
	// A concurrent settlement may deactivate the cart between the insert and
	// the select; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := r.q.Exec(ctx, insert, userID); err != nil {
			return nil, fmt.Errorf("ensure active cart: %w", err)
		}
		cart, err := r.fetchCart(ctx, `
SELECT `+cartColumns+`
FROM carts
WHERE user_id = $1 AND active
`, userID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return cart, err
	}
	return nil, fmt.Errorf("ensure active cart for user %s: %w", userID, domain.ErrNotFound)
}

func (r *postgresRepo) CreateFreshActive(ctx context.Context, userID string) (*domain.Cart, error) {
	return r.GetOrCreateActive(ctx, userID)
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Cart, error) {
	return r.fetchCart(ctx, `
SELECT `+cartColumns+`
FROM carts
WHERE id = $1
`, id)
}

func (r *postgresRepo) GetForUpdate(ctx context.Context, id string) (*domain.Cart, error) {
	return r.fetchCart(ctx, `
SELECT `+cartColumns+`
FROM carts
WHERE id = $1
FOR UPDATE
`, id)
}

func (r *postgresRepo) AddLine(ctx context.Context, cartID string, course domain.Course) (*domain.CartLine, error) {
	const q = `
INSERT INTO cart_lines (cart_id, course_id, title, price_cents)
SELECT c.id, $2, $3, $4
FROM carts c
WHERE c.id = $1 AND c.active
RETURNING id::text, cart_id::text, course_id::text, title, price_cents, created_at
`
	var line domain.CartLine
	err := r.q.QueryRow(ctx, q, cartID, course.ID, course.Title, course.PriceCents).Scan(
		&line.ID,
		&line.CartID,
		&line.CourseID,
		&line.Title,
		&line.PriceCents,
		&line.CreatedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case db.IsUniqueViolation(err):
			return nil, domain.ErrDuplicateItem
		case db.IsForeignKeyViolation(err), db.IsInvalidInput(err):
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

func (r *postgresRepo) RemoveLine(ctx context.Context, cartID, courseID string) error {
	cmd, err := r.q.Exec(ctx, `
DELETE FROM cart_lines
WHERE cart_id = $1 AND course_id = $2
`, cartID, courseID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) Clear(ctx context.Context, cartID string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID)
	return err
}

func (r *postgresRepo) Deactivate(ctx context.Context, cartID string) (bool, error) {
	cmd, err := r.q.Exec(ctx, `
UPDATE carts
SET active = FALSE,
    deactivated_at = now()
WHERE id = $1 AND active
`, cartID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresRepo) fetchCart(ctx context.Context, cartQuery string, args ...any) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.q.QueryRow(ctx, cartQuery, args...).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Active,
		&cart.CreatedAt,
		&cart.DeactivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidInput(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	const linesQuery = `
SELECT id::text, cart_id::text, course_id::text, title, price_cents, created_at
FROM cart_lines
WHERE cart_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.q.Query(ctx, linesQuery, cart.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cart.Lines = []domain.CartLine{}
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(
			&line.ID,
			&line.CartID,
			&line.CourseID,
			&line.Title,
			&line.PriceCents,
			&line.CreatedAt,
		); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &cart, nil
}
