package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/metrics"
	"coursecart/internal/payment"
	"go.uber.org/zap"
)

type cartReader interface {
	GetOrCreateActive(ctx context.Context, userID string) (*domain.Cart, error)
}

type courseReader interface {
	GetByID(ctx context.Context, id string) (*domain.Course, error)
}

type sessionWriter interface {
	Create(ctx context.Context, s domain.CheckoutSession) error
}

type Config struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Service opens hosted payment sessions for the user's active cart. It never
// touches cart contents; a failed attempt can simply be retried.
type Service struct {
	carts    cartReader
	courses  courseReader
	sessions sessionWriter
	gateway  payment.Gateway
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func New(carts cartReader, courses courseReader, sessions sessionWriter, gateway payment.Gateway, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		carts:    carts,
		courses:  courses,
		sessions: sessions,
		gateway:  gateway,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("checkout"),
		now:      time.Now,
	}
}

type Result struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// Initiate creates a gateway session for the user's active cart and returns
// where to send the browser.
func (s *Service) Initiate(ctx context.Context, userID string) (*Result, error) {
	cart, err := s.carts.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		s.metrics.ObserveCheckout("empty")
		return nil, domain.ErrEmptyCart
	}

	lines := make([]payment.LineItem, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lines = append(lines, payment.LineItem{
			ID:          l.CourseID,
			Title:       s.lineTitle(ctx, l),
			AmountCents: l.PriceCents,
		})
	}

	externalID := ExternalID(cart.ID, s.now())
	req := payment.SessionRequest{
		ExternalID:  externalID,
		Lines:       lines,
		AmountCents: cart.TotalCents(),
		Currency:    s.cfg.Currency,
		Metadata:    domain.SessionMetadata{UserID: userID, CartID: cart.ID},
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
	}
	sess, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		s.metrics.ObserveCheckout("gateway_error")
		s.logger.Warn("create gateway session failed",
			zap.String("user_id", userID),
			zap.String("cart_id", cart.ID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	if err := s.sessions.Create(ctx, domain.CheckoutSession{
		ExternalID:  sess.ExternalID,
		UserID:      userID,
		CartID:      cart.ID,
		AmountCents: req.AmountCents,
		Lines:       cart.Lines,
		RedirectURL: sess.RedirectURL,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	}); err != nil {
		s.metrics.ObserveCheckout("store_error")
		return nil, fmt.Errorf("store checkout session: %w", err)
	}

	s.metrics.ObserveCheckout("created")
	s.logger.Info("checkout session created",
		zap.String("user_id", userID),
		zap.String("cart_id", cart.ID),
		zap.String("external_id", sess.ExternalID),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int("lines", len(lines)),
	)
	return &Result{SessionID: sess.ExternalID, RedirectURL: sess.RedirectURL}, nil
}

// lineTitle prefers the snapshot; the amount always comes from it.
func (s *Service) lineTitle(ctx context.Context, l domain.CartLine) string {
	if l.Title != "" || s.courses == nil {
		return l.Title
	}
	c, err := s.courses.GetByID(ctx, l.CourseID)
	if err != nil {
		s.logger.Debug("course title lookup failed", zap.String("course_id", l.CourseID), zap.Error(err))
		return l.CourseID
	}
	return c.Title
}

// ExternalID is unique per attempt because a cart may be checked out more
// than once before it is paid. It stays within Midtrans' 50 character
// order id limit.
func ExternalID(cartID string, at time.Time) string {
	return "c" + strings.ReplaceAll(cartID, "-", "") + "-" + strconv.FormatInt(at.UnixNano(), 36)
}
