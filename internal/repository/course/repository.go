package course

import (
	"context"

	"coursecart/internal/domain"
)

// Repository reads the course catalog. Upsert is used only by the seed and
// import tools.
type Repository interface {
	List(ctx context.Context) ([]domain.Course, error)
	GetByID(ctx context.Context, id string) (*domain.Course, error)
	Upsert(ctx context.Context, course domain.Course) (*domain.Course, error)
}
