package enrollment

import (
	"context"
	"fmt"

	"coursecart/internal/db"
	"coursecart/internal/domain"
)

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) Attach(ctx context.Context, userID, courseID string) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO enrollments (user_id, course_id)
VALUES ($1, $2)
ON CONFLICT (user_id, course_id) DO NOTHING
`, userID, courseID)
	if err != nil {
		if db.IsForeignKeyViolation(err) || db.IsInvalidInput(err) {
			return fmt.Errorf("attach course %s: %w", courseID, domain.ErrNotFound)
		}
		return fmt.Errorf("attach course %s: %w", courseID, err)
	}
	return nil
}

func (r *postgresRepo) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id::text = $2)
`, userID, courseID).Scan(&exists)
	return exists, err
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]domain.Enrollment, error) {
	rows, err := r.q.Query(ctx, `
SELECT user_id, course_id::text, enrolled_at
FROM enrollments
WHERE user_id = $1
ORDER BY enrolled_at DESC, course_id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Enrollment{}
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.UserID, &e.CourseID, &e.EnrolledAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
