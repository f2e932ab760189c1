package transaction

import (
	"context"

	"coursecart/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type ledgerReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

type enrollmentReader interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Enrollment, error)
}

// Service serves a user's purchase history and owned courses.
type Service struct {
	ledger      ledgerReader
	enrollments enrollmentReader
}

func New(ledger ledgerReader, enrollments enrollmentReader) *Service {
	return &Service{ledger: ledger, enrollments: enrollments}
}

// History lists transactions newest first. Limit is clamped to [1, 200].
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}
	return s.ledger.ListByUser(ctx, userID, limit)
}

func (s *Service) Enrollments(ctx context.Context, userID string) ([]domain.Enrollment, error) {
	return s.enrollments.ListByUser(ctx, userID)
}
