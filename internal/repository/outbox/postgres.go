package outbox

import (
	"context"

	"coursecart/internal/db"
	"coursecart/internal/domain"
	"github.com/google/uuid"
)

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) Enqueue(ctx context.Context, msg Message) error {
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	_, err := r.q.Exec(ctx, `
INSERT INTO outbox (event_id, topic, event_type, key, payload)
VALUES ($1, $2, $3, $4, $5)
`, msg.EventID, msg.Topic, msg.EventType, msg.Key, msg.Payload)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *postgresRepo) FetchPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
SELECT id, event_id::text, topic, event_type, key, payload, created_at
FROM outbox
WHERE sent_at IS NULL
ORDER BY id ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.Topic, &m.EventType, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *postgresRepo) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1) AND sent_at IS NULL`, ids)
	return err
}
