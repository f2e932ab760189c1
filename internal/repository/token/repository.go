package token

import (
	"context"
	"time"
)

// Token is a bearer token issued by the external auth system. This service
// only resolves it to a user id; the seed tool writes a demo token.
type Token struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, token Token) error
	Get(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, token string) error
}
