package transaction

import (
	"context"

	"coursecart/internal/domain"
)

// Repository is the transaction ledger. The external id is unique; Insert
// reports a duplicate with domain.ErrAlreadyExists, which settlement treats
// as the authoritative "already settled" signal.
type Repository interface {
	Insert(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	// UpdateStatus never touches a completed row; it returns
	// domain.ErrNotFound when no eligible row exists.
	UpdateStatus(ctx context.Context, externalID string, status domain.TransactionStatus) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}
