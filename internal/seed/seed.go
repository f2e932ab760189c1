package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/repository/token"
)

type courseWriter interface {
	Upsert(ctx context.Context, course domain.Course) (*domain.Course, error)
}

type tokenWriter interface {
	Create(ctx context.Context, t token.Token) error
}

// DemoToken authenticates the demo student created by Apply.
const (
	DemoToken  = "demo-student-token"
	DemoUserID = "demo-student"
)

var demoCourses = []domain.Course{
	{Key: "go-fundamentals", Title: "Go Fundamentals", PriceCents: 150000, Currency: "IDR"},
	{Key: "concurrency-in-go", Title: "Concurrency in Go", PriceCents: 250000, Currency: "IDR"},
	{Key: "postgres-for-developers", Title: "PostgreSQL for Developers", PriceCents: 199000, Currency: "IDR"},
}

// Apply inserts basic seed data for manual testing. Courses are upserted by
// key and an existing demo token is left alone, so it can be rerun.
func Apply(ctx context.Context, courses courseWriter, tokens tokenWriter) ([]domain.Course, error) {
	out := make([]domain.Course, 0, len(demoCourses))
	for _, c := range demoCourses {
		saved, err := courses.Upsert(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("upsert course %s: %w", c.Key, err)
		}
		out = append(out, *saved)
	}

	err := tokens.Create(ctx, token.Token{
		Token:     DemoToken,
		UserID:    DemoUserID,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return nil, fmt.Errorf("create demo token: %w", err)
	}
	return out, nil
}
