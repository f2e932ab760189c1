// Package outbox publishes events written to the outbox table to Kafka.
// Delivery is at least once: rows are marked sent only after the broker
// acknowledged them.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursecart/internal/metrics"
	outboxrepo "coursecart/internal/repository/outbox"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type store interface {
	FetchPending(ctx context.Context, limit int) ([]outboxrepo.Message, error)
	MarkSent(ctx context.Context, ids []int64) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	store    store
	writer   messageWriter
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewKafkaWriter builds a writer that routes on each message's topic.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

func NewRelay(s store, w messageWriter, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:    s,
		writer:   w,
		interval: interval,
		batch:    100,
		metrics:  m,
		logger:   logger.Named("outbox_relay"),
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch of pending messages and returns how many were
// sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.FetchPending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(pending))
	ids := make([]int64, 0, len(pending))
	for _, m := range pending {
		msgs = append(msgs, kafka.Message{
			Topic: m.Topic,
			Key:   []byte(m.Key),
			Value: m.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(m.EventType)},
				{Key: "event_id", Value: []byte(m.EventID)},
			},
		})
		ids = append(ids, m.ID)
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.metrics.ObserveOutbox("failed", len(msgs))
		return 0, fmt.Errorf("publish %d messages: %w", len(msgs), err)
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		// Published but not marked: the batch will be sent again.
		return 0, fmt.Errorf("mark sent: %w", err)
	}
	r.metrics.ObserveOutbox("sent", len(msgs))
	r.logger.Debug("outbox flushed", zap.Int("count", len(msgs)))
	return len(msgs), nil
}
