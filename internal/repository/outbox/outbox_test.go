package outbox

import (
	"context"
	"testing"

	"coursecart/internal/db/dbtest"
)

func TestPostgres_EnqueueFetchMark(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	repo := NewPostgres(pool)

	for _, key := range []string{"user-1", "user-2"} {
		if err := repo.Enqueue(ctx, Message{
			Topic:     "course-purchases",
			EventType: "course.purchased",
			Key:       key,
			Payload:   []byte(`{"userId":"` + key + `"}`),
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 2 || pending[0].Key != "user-1" || pending[0].EventID == "" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	if err := repo.MarkSent(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	pending, err = repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != "user-2" {
		t.Fatalf("unexpected pending after mark %+v", pending)
	}
}
