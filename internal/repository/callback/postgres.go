package callback

import (
	"context"
	"encoding/json"

	"coursecart/internal/db"
)

type postgresRepo struct {
	q db.Querier
}

func NewPostgres(q db.Querier) Repository {
	return &postgresRepo{q: q}
}

func (r *postgresRepo) Record(ctx context.Context, cb Callback) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO payment_callbacks (provider, external_id, event_type, payload, signature_valid, outcome, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, cb.Provider, cb.ExternalID, cb.EventType, jsonPayload(cb.Payload), cb.SignatureValid, cb.Outcome, cb.Error)
	return err
}

// jsonPayload keeps unparseable bodies by storing them as a JSON string.
func jsonPayload(body []byte) []byte {
	if len(body) > 0 && json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
