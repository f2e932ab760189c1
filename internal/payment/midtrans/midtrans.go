// Package midtrans adapts Midtrans Snap (hosted checkout) and the Core API
// (status checks) to payment.Gateway.
package midtrans

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"coursecart/internal/domain"
	"coursecart/internal/payment"
	mt "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"
)

const maxItemNameLen = 50

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *mt.Error)
}

type coreAPI interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *mt.Error)
}

type sessionLookup interface {
	Get(ctx context.Context, externalID string) (*domain.CheckoutSession, error)
}

type Config struct {
	ServerKey    string
	IsProduction bool
}

type Gateway struct {
	serverKey string
	snap      snapAPI
	core      coreAPI
	sessions  sessionLookup
	logger    *zap.Logger
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg Config, sessions sessionLookup, logger *zap.Logger) *Gateway {
	env := mt.Sandbox
	if cfg.IsProduction {
		env = mt.Production
	}
	var s snap.Client
	s.New(cfg.ServerKey, env)
	var c coreapi.Client
	c.New(cfg.ServerKey, env)
	return NewWithClients(cfg.ServerKey, &s, &c, sessions, logger)
}

// NewWithClients lets tests substitute the SDK clients.
func NewWithClients(serverKey string, s snapAPI, c coreAPI, sessions sessionLookup, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		serverKey: serverKey,
		snap:      s,
		core:      c,
		sessions:  sessions,
		logger:    logger.Named("midtrans"),
	}
}

func (g *Gateway) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	items := make([]mt.ItemDetails, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, mt.ItemDetails{
			ID:    l.ID,
			Name:  truncate(l.Title, maxItemNameLen),
			Price: l.AmountCents,
			Qty:   1,
		})
	}
	snapReq := &snap.Request{
		TransactionDetails: mt.TransactionDetails{
			OrderID:  req.ExternalID,
			GrossAmt: req.AmountCents,
		},
		Items:        &items,
		CustomField1: req.Metadata.UserID,
		CustomField2: req.Metadata.CartID,
	}
	// Snap redirects to a single finish URL; the provider status it appends
	// tells success from cancellation.
	if req.SuccessURL != "" {
		snapReq.Callbacks = &snap.Callbacks{Finish: req.SuccessURL}
	}

	resp, err := payment.Await(ctx, func() (*snap.Response, error) {
		r, mErr := g.snap.CreateTransaction(snapReq)
		if mErr != nil {
			return nil, sdkError("create transaction", mErr)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.RedirectURL == "" {
		return nil, errors.New("midtrans create transaction: empty redirect url")
	}
	g.logger.Info("snap session created",
		zap.String("order_id", req.ExternalID),
		zap.Int64("gross_amount", req.AmountCents),
	)
	return &payment.Session{ExternalID: req.ExternalID, RedirectURL: resp.RedirectURL}, nil
}

func (g *Gateway) FetchSession(ctx context.Context, externalID string) (*payment.SessionStatus, error) {
	resp, err := payment.Await(ctx, func() (*coreapi.TransactionStatusResponse, error) {
		r, mErr := g.core.CheckTransaction(externalID)
		if mErr != nil {
			if mErr.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("midtrans order %s: %w", externalID, domain.ErrNotFound)
			}
			return nil, sdkError("check transaction", mErr)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("midtrans order %s: empty status response", externalID)
	}

	out := &payment.SessionStatus{
		ExternalID: externalID,
		Status:      sessionStatus(resp.TransactionStatus, resp.FraudStatus),
		Method:      resp.PaymentType,
		AmountCents: grossAmount(resp.GrossAmount),
	}
	out.Metadata, err = g.lookupMetadata(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

func (g *Gateway) VerifyWebhook(ctx context.Context, payload []byte) (*payment.Event, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: order_id and transaction_status required", payment.ErrMalformedPayload)
	}
	if !g.validSignature(n) {
		return nil, domain.ErrInvalidSignature
	}

	ev := &payment.Event{
		ExternalID:     n.OrderID,
		Kind:           eventKind(n.TransactionStatus, n.FraudStatus),
		ProviderStatus: n.TransactionStatus,
		Method:         n.PaymentType,
		Metadata:       domain.SessionMetadata{UserID: n.CustomField1, CartID: n.CustomField2},
		AmountCents:    grossAmount(n.GrossAmount),
	}
	if !ev.Metadata.Valid() {
		md, err := g.lookupMetadata(ctx, n.OrderID)
		if err != nil {
			return nil, err
		}
		ev.Metadata = md
	}
	return ev, nil
}

// Signature reproduces Midtrans' notification signature:
// SHA512(order_id + status_code + gross_amount + server_key), hex encoded.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (g *Gateway) validSignature(n notification) bool {
	if g.serverKey == "" || n.SignatureKey == "" {
		return false
	}
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, g.serverKey)
	got := strings.ToLower(n.SignatureKey)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// lookupMetadata falls back to the locally stored session. An unknown
// session yields empty metadata, which settlement rejects as an invalid
// reference.
func (g *Gateway) lookupMetadata(ctx context.Context, externalID string) (domain.SessionMetadata, error) {
	if g.sessions == nil {
		return domain.SessionMetadata{}, nil
	}
	s, err := g.sessions.Get(ctx, externalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			g.logger.Warn("no local session for order", zap.String("order_id", externalID))
			return domain.SessionMetadata{}, nil
		}
		return domain.SessionMetadata{}, fmt.Errorf("load session %s: %w", externalID, err)
	}
	return domain.SessionMetadata{UserID: s.UserID, CartID: s.CartID}, nil
}

// grossAmount reads Midtrans' "150000.00" as whole currency units, the same
// unit CreateSession sends. Anything it cannot read exactly yields zero.
func grossAmount(s string) int64 {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if strings.Trim(frac, "0") != "" {
		return 0
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func eventKind(status, fraud string) domain.EventKind {
	switch status {
	case "settlement":
		return domain.EventCompleted
	case "capture":
		if fraud == "" || fraud == "accept" {
			return domain.EventCompleted
		}
		return ""
	case "expire":
		return domain.EventExpired
	case "deny", "cancel", "failure":
		return domain.EventFailed
	}
	return ""
}

func sessionStatus(status, fraud string) payment.Status {
	switch eventKind(status, fraud) {
	case domain.EventCompleted:
		return payment.StatusPaid
	case domain.EventExpired:
		return payment.StatusExpired
	case domain.EventFailed:
		if status == "cancel" {
			return payment.StatusCancelled
		}
		return payment.StatusFailed
	}
	return payment.StatusPending
}

func sdkError(op string, e *mt.Error) error {
	return fmt.Errorf("midtrans %s: status=%d %s", op, e.StatusCode, e.Message)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
