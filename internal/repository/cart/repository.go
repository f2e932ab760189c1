package cart

import (
	"context"

	"coursecart/internal/domain"
)

// Repository is the user-facing cart store.
type Repository interface {
	// GetOrCreateActive returns the user's active cart, creating it when absent.
	GetOrCreateActive(ctx context.Context, userID string) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	// AddLine snapshots the course price and title onto a new line of an
	// active cart. A repeated course yields domain.ErrDuplicateItem.
	AddLine(ctx context.Context, cartID string, course domain.Course) (*domain.CartLine, error)
	RemoveLine(ctx context.Context, cartID, courseID string) error
	Clear(ctx context.Context, cartID string) error
}

// TxRepository adds the rotation operations that only settlement may use,
// always inside a unit of work.
type TxRepository interface {
	Repository
	// GetForUpdate loads the cart and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Cart, error)
	// Deactivate reports false when the cart was already inactive.
	Deactivate(ctx context.Context, cartID string) (bool, error)
	CreateFreshActive(ctx context.Context, userID string) (*domain.Cart, error)
}
