package session

import (
	"context"
	"errors"
	"testing"

	"coursecart/internal/db/dbtest"
	"coursecart/internal/domain"
	"coursecart/internal/repository/cart"
)

func TestPostgres_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	c, err := cart.NewPostgres(pool).GetOrCreateActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	repo := NewPostgres(pool)

	in := domain.CheckoutSession{
		ExternalID:  "course-" + c.ID + "-1",
		UserID:      "user-1",
		CartID:      c.ID,
		AmountCents: 150,
		Lines:       []domain.CartLine{{CourseID: "00000000-0000-0000-0000-0000000000aa", Title: "Go", PriceCents: 150}},
		RedirectURL: "https://pay.example/1",
		SuccessURL:  "https://shop.example/checkout/return",
		CancelURL:   "https://shop.example/checkout/return",
	}
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, in); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.Get(ctx, in.ExternalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CartID != c.ID || got.UserID != "user-1" || got.AmountCents != 150 {
		t.Fatalf("unexpected session %+v", got)
	}
	if len(got.Lines) != 1 || got.Lines[0].Title != "Go" || got.Lines[0].PriceCents != 150 {
		t.Fatalf("line snapshot not round-tripped: %+v", got.Lines)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
