package outbox

import (
	"context"
	"time"
)

// Message is an event written in the same database transaction as the state
// change it describes, published later by the relay.
type Message struct {
	ID        int64
	EventID   string
	Topic     string
	EventType string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

type Repository interface {
	Enqueue(ctx context.Context, msg Message) error
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, ids []int64) error
}
