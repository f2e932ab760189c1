package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursecart/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Guarded bounds every outbound gateway call with a timeout and a circuit
// breaker. Failures surface as domain.ErrGatewayUnavailable; webhook
// verification is local and passes straight through.
type Guarded struct {
	next    Gateway
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
}

type GuardOptions struct {
	Timeout time.Duration
	// Trips the breaker after this many consecutive failures.
	MaxFailures uint32
	// How long the breaker stays open before probing again.
	OpenFor time.Duration
	Logger  *zap.Logger
}

func NewGuarded(next Gateway, opts GuardOptions) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := opts.MaxFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Guarded{next: next, timeout: opts.Timeout, cb: cb}
}

func (g *Guarded) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	v, err := g.call(ctx, func(ctx context.Context) (any, error) {
		return g.next.CreateSession(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (g *Guarded) FetchSession(ctx context.Context, externalID string) (*SessionStatus, error) {
	v, err := g.call(ctx, func(ctx context.Context) (any, error) {
		return g.next.FetchSession(ctx, externalID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionStatus), nil
}

func (g *Guarded) VerifyWebhook(ctx context.Context, payload []byte) (*Event, error) {
	return g.next.VerifyWebhook(ctx, payload)
}

func (g *Guarded) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err := g.cb.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(ctx)
	})
	if err == nil {
		return v, nil
	}
	if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
}

// Await runs a blocking SDK call and abandons it when ctx ends. SDK clients
// that take no context are bounded this way.
func Await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
