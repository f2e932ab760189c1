package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness constraint rejected the write.
	ErrAlreadyExists = errors.New("already exists")

	ErrEmptyCart        = errors.New("cart is empty")
	ErrDuplicateItem    = errors.New("course already in cart")
	ErrAlreadyPurchased = errors.New("course already purchased")
	// ErrGatewayUnavailable is transient; the cart is left untouched and the
	// user may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidSignature rejects a webhook that must never be retried.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidReference marks confirmation metadata that points at no
	// usable cart. It is logged and dropped.
	ErrInvalidReference = errors.New("invalid settlement reference")
)
