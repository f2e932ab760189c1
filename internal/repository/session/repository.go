package session

import (
	"context"

	"coursecart/internal/domain"
)

// Repository stores the checkout sessions opened at the gateway so the
// redirect path can recover their metadata.
type Repository interface {
	Create(ctx context.Context, s domain.CheckoutSession) error
	Get(ctx context.Context, externalID string) (*domain.CheckoutSession, error)
}
