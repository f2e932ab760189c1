package domain

import "time"

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionExpired   TransactionStatus = "expired"
)

// Transaction records one settled or failed payment attempt. ExternalID is
// the gateway's payment id and is unique across all transactions.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	CartID      string            `json:"cartId"`
	AmountCents int64             `json:"amountCents"`
	Currency    string            `json:"currency"`
	ExternalID  string            `json:"externalId"`
	Method      string            `json:"method,omitempty"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
