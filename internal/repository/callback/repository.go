package callback

import (
	"context"
	"time"
)

// Callback is one raw webhook delivery together with what the service did
// with it.
type Callback struct {
	ID             int64
	Provider       string
	ExternalID     string
	EventType      string
	Payload        []byte
	SignatureValid bool
	Outcome        string
	Error          string
	CreatedAt      time.Time
}

type Repository interface {
	Record(ctx context.Context, cb Callback) error
}
