// Package payment defines the gateway contract used by checkout and event
// ingress. Provider adapters live in subpackages.
package payment

import (
	"context"
	"errors"

	"coursecart/internal/domain"
)

// ErrMalformedPayload is returned for webhook bodies that cannot be parsed.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// LineItem is one priced entry shown on the hosted payment page.
type LineItem struct {
	ID          string
	Title       string
	AmountCents int64
}

type SessionRequest struct {
	ExternalID  string
	Lines       []LineItem
	AmountCents int64
	Currency    string
	Metadata    domain.SessionMetadata
	SuccessURL  string
	CancelURL   string
}

type Session struct {
	ExternalID  string
	RedirectURL string
}

// Status is the provider-independent state of a session as seen on the
// redirect path.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

type SessionStatus struct {
	ExternalID  string
	Status      Status
	Method      string
	Metadata    domain.SessionMetadata
	// AmountCents is the gross amount the provider reports; zero when it
	// reported none.
	AmountCents int64
}

// Event is a verified webhook. Kind is empty for notifications that carry no
// settlement meaning, such as a pending payment.
type Event struct {
	ExternalID     string
	Kind           domain.EventKind
	ProviderStatus string
	Method         string
	Metadata       domain.SessionMetadata
	AmountCents    int64
}

// Gateway is the hosted-checkout provider. VerifyWebhook returns
// domain.ErrInvalidSignature for forged payloads and ErrMalformedPayload for
// bodies it cannot parse.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	FetchSession(ctx context.Context, externalID string) (*SessionStatus, error)
	VerifyWebhook(ctx context.Context, payload []byte) (*Event, error)
}
