package enrollment

import (
	"context"

	"coursecart/internal/domain"
)

type Repository interface {
	// Attach grants access to a course. Attaching twice is a no-op.
	Attach(ctx context.Context, userID, courseID string) error
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Enrollment, error)
}
