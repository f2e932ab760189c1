package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/metrics"
	"coursecart/internal/repository/outbox"
	"coursecart/internal/repository/uow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome reports what a Settle call did. Repeated or irrelevant
// confirmations are outcomes, not errors.
type Outcome string

const (
	Settled        Outcome = "settled"
	AlreadySettled Outcome = "already_settled"
	Ignored        Outcome = "ignored"
	MarkedFailed   Outcome = "marked_failed"
)

// EventCoursePurchased is the outbox event type written on every settlement.
const EventCoursePurchased = "course.purchased"

var errAlreadySettled = errors.New("already settled")

type ledger interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, externalID string, status domain.TransactionStatus) error
}

type Config struct {
	Currency    string
	OutboxTopic string
}

type Request struct {
	ExternalID string
	Metadata   domain.SessionMetadata
	Kind       domain.EventKind
	Method     string
	// AmountCents is what the gateway reports as charged; zero when unknown.
	AmountCents int64
}

// Processor turns a payment confirmation into a recorded transaction and
// granted enrollments exactly once, whichever ingress path arrives first.
type Processor struct {
	ledger  ledger
	uow     uow.UnitOfWork
	cfg     Config
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

func New(l ledger, u uow.UnitOfWork, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:  l,
		uow:     u,
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer("coursecart/settlement"),
		logger:  logger.Named("settlement"),
		now:     time.Now,
	}
}

func (p *Processor) Settle(ctx context.Context, req Request) (out Outcome, err error) {
	ctx, span := p.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("payment.external_id", req.ExternalID),
		attribute.String("settlement.kind", string(req.Kind)),
	))
	defer func() {
		label := string(out)
		switch {
		case errors.Is(err, domain.ErrInvalidReference):
			label = "invalid_reference"
		case err != nil:
			label = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("settlement.outcome", label))
		span.End()
		p.metrics.ObserveSettlement(string(req.Kind), label)
	}()

	if !req.Kind.Valid() {
		return "", fmt.Errorf("unknown event kind %q", req.Kind)
	}
	if req.ExternalID == "" {
		return "", fmt.Errorf("%w: missing external payment id", domain.ErrInvalidReference)
	}
	log := p.logger.With(
		zap.String("external_id", req.ExternalID),
		zap.String("kind", string(req.Kind)),
	)

	existing, err := p.ledger.GetByExternalID(ctx, req.ExternalID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup transaction: %w", err)
	}

	switch req.Kind {
	case domain.EventExpired:
		log.Info("session expired")
		if existing != nil {
			return AlreadySettled, nil
		}
		return Ignored, nil

	case domain.EventFailed:
		if existing == nil {
			log.Info("payment failed before any transaction was recorded")
			return Ignored, nil
		}
		if existing.Status == domain.TransactionCompleted || existing.Status == domain.TransactionFailed {
			return AlreadySettled, nil
		}
		if err := p.ledger.UpdateStatus(ctx, req.ExternalID, domain.TransactionFailed); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return AlreadySettled, nil
			}
			return "", fmt.Errorf("mark transaction failed: %w", err)
		}
		log.Info("transaction marked failed")
		return MarkedFailed, nil
	}

	if existing != nil {
		log.Debug("already settled", zap.String("status", string(existing.Status)))
		return AlreadySettled, nil
	}
	if !req.Metadata.Valid() {
		return "", fmt.Errorf("%w: metadata missing user or cart", domain.ErrInvalidReference)
	}

	err = p.uow.Do(ctx, func(ctx context.Context, r uow.Repos) error {
		return p.complete(ctx, r, req, log)
	})
	switch {
	case errors.Is(err, errAlreadySettled):
		log.Info("lost settlement race, already settled")
		return AlreadySettled, nil
	case err != nil:
		return "", err
	}
	return Settled, nil
}

func (p *Processor) complete(ctx context.Context, r uow.Repos, req Request, log *zap.Logger) error {
	cart, err := r.Carts.GetForUpdate(ctx, req.Metadata.CartID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: cart %s not found", domain.ErrInvalidReference, req.Metadata.CartID)
		}
		return fmt.Errorf("load cart: %w", err)
	}
	if cart.UserID != req.Metadata.UserID {
		return fmt.Errorf("%w: cart %s not owned by user %s", domain.ErrInvalidReference, cart.ID, req.Metadata.UserID)
	}

	bought, err := p.charged(ctx, r, req, cart, log)
	if err != nil {
		return err
	}

	txn, err := r.Transactions.Insert(ctx, domain.Transaction{
		UserID:      cart.UserID,
		CartID:      cart.ID,
		AmountCents: bought.amountCents,
		Currency:    p.cfg.Currency,
		ExternalID:  req.ExternalID,
		Method:      req.Method,
		Status:      domain.TransactionCompleted,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return errAlreadySettled
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	paid := make(map[string]bool, len(bought.lines))
	for _, l := range bought.lines {
		if err := r.Enrollments.Attach(ctx, cart.UserID, l.CourseID); err != nil {
			return fmt.Errorf("enroll: %w", err)
		}
		paid[l.CourseID] = true
	}

	rotated := false
	carried := 0
	if cart.Active {
		rotated, err = r.Carts.Deactivate(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("deactivate cart: %w", err)
		}
		if rotated {
			fresh, err := r.Carts.CreateFreshActive(ctx, cart.UserID)
			if err != nil {
				return fmt.Errorf("create fresh cart: %w", err)
			}
			// Lines added after checkout were not charged; they move to the
			// fresh cart with their original snapshots.
			for _, l := range cart.Lines {
				if paid[l.CourseID] {
					continue
				}
				snapshot := domain.Course{ID: l.CourseID, Title: l.Title, PriceCents: l.PriceCents}
				if _, err := r.Carts.AddLine(ctx, fresh.ID, snapshot); err != nil {
					return fmt.Errorf("carry line %s to fresh cart: %w", l.CourseID, err)
				}
				carried++
			}
		}
	}

	msg, err := p.purchasedEvent(txn, cart, bought.lines)
	if err != nil {
		return err
	}
	if err := r.Outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue purchase event: %w", err)
	}

	log.Info("settled",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", cart.UserID),
		zap.String("cart_id", cart.ID),
		zap.Int64("amount_cents", txn.AmountCents),
		zap.Int("courses", len(bought.lines)),
		zap.Bool("cart_rotated", rotated),
		zap.Int("lines_carried", carried),
	)
	return nil
}

type purchase struct {
	lines       []domain.CartLine
	amountCents int64
}

// charged resolves what the gateway was asked to collect. The checkout
// session snapshot wins over the live cart, which the user may have edited
// while paying. Carts settled without a local session fall back to their
// current lines.
func (p *Processor) charged(ctx context.Context, r uow.Repos, req Request, cart *domain.Cart, log *zap.Logger) (purchase, error) {
	var out purchase
	sess, err := r.Sessions.Get(ctx, req.ExternalID)
	switch {
	case err == nil:
		if sess.CartID != cart.ID || sess.UserID != cart.UserID {
			return out, fmt.Errorf("%w: session %s belongs to cart %s", domain.ErrInvalidReference, sess.ExternalID, sess.CartID)
		}
		out = purchase{lines: sess.Lines, amountCents: sess.AmountCents}
		if cart.TotalCents() != sess.AmountCents || len(cart.Lines) != len(sess.Lines) {
			log.Warn("cart changed after checkout, settling the checkout snapshot",
				zap.Int64("session_amount_cents", sess.AmountCents),
				zap.Int64("cart_amount_cents", cart.TotalCents()),
			)
		}
	case errors.Is(err, domain.ErrNotFound):
		out = purchase{lines: cart.Lines, amountCents: cart.TotalCents()}
	default:
		return out, fmt.Errorf("load checkout session: %w", err)
	}

	if len(out.lines) == 0 {
		return out, fmt.Errorf("%w: nothing to settle for cart %s", domain.ErrInvalidReference, cart.ID)
	}
	if req.AmountCents > 0 && req.AmountCents != out.amountCents {
		log.Error("gateway amount differs from checkout amount, recording the charged amount",
			zap.Int64("charged_cents", req.AmountCents),
			zap.Int64("expected_cents", out.amountCents),
		)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("settlement.amount_mismatch", true))
		out.amountCents = req.AmountCents
	}
	return out, nil
}

// PurchasedEvent is the payload published for every settled purchase.
type PurchasedEvent struct {
	EventID       string    `json:"eventId"`
	TransactionID string    `json:"transactionId"`
	ExternalID    string    `json:"externalId"`
	UserID        string    `json:"userId"`
	CartID        string    `json:"cartId"`
	CourseIDs     []string  `json:"courseIds"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	SettledAt     time.Time `json:"settledAt"`
}

func (p *Processor) purchasedEvent(txn *domain.Transaction, cart *domain.Cart, lines []domain.CartLine) (outbox.Message, error) {
	courseIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		courseIDs = append(courseIDs, l.CourseID)
	}
	ev := PurchasedEvent{
		EventID:       uuid.NewString(),
		TransactionID: txn.ID,
		ExternalID:    txn.ExternalID,
		UserID:        cart.UserID,
		CartID:        cart.ID,
		CourseIDs:     courseIDs,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
		SettledAt:     p.now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("marshal purchase event: %w", err)
	}
	return outbox.Message{
		EventID:   ev.EventID,
		Topic:     p.cfg.OutboxTopic,
		EventType: EventCoursePurchased,
		Key:       cart.UserID,
		Payload:   payload,
	}, nil
}
