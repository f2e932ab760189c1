package domain

import "time"

// CheckoutSession is the local record of a payment session held by the
// gateway: its opaque id, the user and cart it was opened for, and the lines
// the gateway was asked to charge. Lines and AmountCents are what settlement
// records, whatever the cart holds by then.
type CheckoutSession struct {
	ExternalID  string     `json:"externalId"`
	UserID      string     `json:"userId"`
	CartID      string     `json:"cartId"`
	AmountCents int64      `json:"amountCents"`
	Lines       []CartLine `json:"lines"`
	RedirectURL string     `json:"redirectUrl"`
	SuccessURL  string     `json:"successUrl"`
	CancelURL   string     `json:"cancelUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SessionMetadata is echoed back by the gateway on every confirmation so a
// settlement can be correlated without a second lookup.
type SessionMetadata struct {
	UserID string `json:"userId"`
	CartID string `json:"cartId"`
}

func (m SessionMetadata) Valid() bool {
	return m.UserID != "" && m.CartID != ""
}

// EventKind is the closed set of confirmation outcomes the settlement
// processor understands. Provider-specific statuses are mapped to it at the
// ingress boundary.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventExpired   EventKind = "expired"
	EventFailed    EventKind = "failed"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCompleted, EventExpired, EventFailed:
		return true
	}
	return false
}
