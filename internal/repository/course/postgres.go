package course

import (
	"context"
	"errors"

	"coursecart/internal/db"
	"coursecart/internal/domain"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type postgresRepo struct {
	q      db.Querier
	logger *zap.Logger
}

func NewPostgres(q db.Querier, logger *zap.Logger) Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &postgresRepo{q: q, logger: logger.Named("course_repo")}
}

func (r *postgresRepo) List(ctx context.Context) ([]domain.Course, error) {
	const q = `
SELECT id::text, key, title, price_cents, currency, created_at
FROM courses
ORDER BY title ASC
`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		r.logger.Warn("list courses", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	result := []domain.Course{}
	for rows.Next() {
		var c domain.Course
		if err := rows.Scan(&c.ID, &c.Key, &c.Title, &c.PriceCents, &c.Currency, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("list courses", zap.Int("count", len(result)))
	return result, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	const q = `
SELECT id::text, key, title, price_cents, currency, created_at
FROM courses
WHERE id = $1
`
	var c domain.Course
	err := r.q.QueryRow(ctx, q, id).Scan(&c.ID, &c.Key, &c.Title, &c.PriceCents, &c.Currency, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidInput(err) {
			r.logger.Debug("course not found", zap.String("course_id", id))
			return nil, domain.ErrNotFound
		}
		r.logger.Warn("get course", zap.String("course_id", id), zap.Error(err))
		return nil, err
	}
	return &c, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, course domain.Course) (*domain.Course, error) {
	const q = `
INSERT INTO courses (key, title, price_cents, currency)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET title = EXCLUDED.title,
    price_cents = EXCLUDED.price_cents,
    currency = EXCLUDED.currency
RETURNING id::text, key, title, price_cents, currency, created_at
`
	var c domain.Course
	if err := r.q.QueryRow(ctx, q, course.Key, course.Title, course.PriceCents, course.Currency).Scan(
		&c.ID, &c.Key, &c.Title, &c.PriceCents, &c.Currency, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.logger.Info("course upserted", zap.String("key", c.Key), zap.String("course_id", c.ID))
	return &c, nil
}
