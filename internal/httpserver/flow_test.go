package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/payment"
	"coursecart/internal/repository/memory"
	"coursecart/internal/repository/token"
	cartsvc "coursecart/internal/service/cart"
	"coursecart/internal/service/checkout"
	"coursecart/internal/service/ingress"
	"coursecart/internal/service/settlement"
	txsvc "coursecart/internal/service/transaction"
	"go.uber.org/zap"
)

// hostedPSP remembers every session it opened and reports them all as paid.
// Webhook payloads are "paid:<external id>".
type hostedPSP struct {
	mu       sync.Mutex
	sessions map[string]payment.SessionRequest
}

func (p *hostedPSP) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[req.ExternalID] = req
	return &payment.Session{ExternalID: req.ExternalID, RedirectURL: "https://psp.example/" + req.ExternalID}, nil
}

func (p *hostedPSP) FetchSession(_ context.Context, id string) (*payment.SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &payment.SessionStatus{ExternalID: id, Status: payment.StatusPaid, Method: "card", Metadata: req.Metadata, AmountCents: req.AmountCents}, nil
}

func (p *hostedPSP) VerifyWebhook(_ context.Context, payload []byte) (*payment.Event, error) {
	id, ok := strings.CutPrefix(string(payload), "paid:")
	if !ok {
		return nil, domain.ErrInvalidSignature
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.sessions[id]
	if !ok {
		return nil, payment.ErrMalformedPayload
	}
	return &payment.Event{ExternalID: id, Kind: domain.EventCompleted, ProviderStatus: "settlement", Method: "qris", Metadata: req.Metadata, AmountCents: req.AmountCents}, nil
}

func newFlowRouter(t *testing.T, store *memory.Store) http.Handler {
	t.Helper()
	if err := store.Tokens().Create(context.Background(), token.Token{Token: "student", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	psp := &hostedPSP{sessions: map[string]payment.SessionRequest{}}
	proc := settlement.New(store.Transactions(), store.UnitOfWork(), settlement.Config{Currency: "IDR", OutboxTopic: "course-purchases"}, nil, nil)
	router, err := buildRouter(zap.NewNop(), Deps{
		Carts:    cartsvc.New(store.Carts(), store.Courses(), store.Enrollments(), nil),
		Checkout: checkout.New(store.Carts(), store.Courses(), store.Sessions(), psp, checkout.Config{Currency: "IDR", SuccessURL: "http://app/checkout/return", CancelURL: "http://app/checkout/return"}, nil, nil),
		Ingress:  ingress.New(psp, proc, store.Callbacks(), "hosted", nil),
		History:  txsvc.New(store.Transactions(), store.Enrollments()),
		Catalog:  store.Courses(),
		Tokens:   store.Tokens(),
		Currency: "IDR",
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return router
}

func checkoutSession(t *testing.T, router http.Handler) checkout.Result {
	t.Helper()
	rec := do(router, http.MethodPost, "/checkout", "", "student")
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	var res checkout.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	return res
}

func TestCheckoutFlow_RedirectAndWebhookSettleOnce(t *testing.T) {
	store := memory.New()
	course := store.PutCourse(domain.Course{Key: "go-101", Title: "Go 101", PriceCents: 150000})
	router := newFlowRouter(t, store)

	if rec := do(router, http.MethodGet, "/courses/"+course.ID, "", ""); rec.Code != http.StatusOK {
		t.Fatalf("catalog lookup: %d", rec.Code)
	}
	if rec := do(router, http.MethodPost, "/me/cart/lines", `{"courseId":"`+course.ID+`"}`, "student"); rec.Code != http.StatusOK {
		t.Fatalf("add line: %d %s", rec.Code, rec.Body.String())
	}
	res := checkoutSession(t, router)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		codes[0] = do(router, http.MethodPost, "/webhooks/payment", "paid:"+res.SessionID, "").Code
	}()
	go func() {
		defer wg.Done()
		r := do(router, http.MethodGet, "/checkout/return?session_id="+res.SessionID, "", "")
		if r.Header().Get("Location") != "/checkout/result?status=success" {
			codes[1] = -1
			return
		}
		codes[1] = r.Code
	}()
	wg.Wait()
	if codes[0] != http.StatusOK || codes[1] != http.StatusSeeOther {
		t.Fatalf("unexpected ingress results: %v", codes)
	}

	if txns := store.AllTransactions(); len(txns) != 1 || txns[0].AmountCents != 150000 {
		t.Fatalf("expected exactly one transaction of 150000, got %+v", txns)
	}
	if n := store.ActiveCarts("user-1"); n != 1 {
		t.Fatalf("expected one active cart after rotation, got %d", n)
	}

	rec := do(router, http.MethodGet, "/me/enrollments", "", "student")
	if !strings.Contains(rec.Body.String(), course.ID) {
		t.Fatalf("course not enrolled: %s", rec.Body.String())
	}
	rec = do(router, http.MethodGet, "/me/cart", "", "student")
	if !strings.Contains(rec.Body.String(), `"lines":[]`) {
		t.Fatalf("expected a fresh empty cart: %s", rec.Body.String())
	}
	if rec := do(router, http.MethodPost, "/me/cart/lines", `{"courseId":"`+course.ID+`"}`, "student"); rec.Code != http.StatusConflict {
		t.Fatalf("re-adding a purchased course: expected 409, got %d", rec.Code)
	}

	// A late duplicate webhook is acknowledged without side effects.
	if rec := do(router, http.MethodPost, "/webhooks/payment", "paid:"+res.SessionID, ""); rec.Code != http.StatusOK {
		t.Fatalf("duplicate webhook: %d", rec.Code)
	}
	if txns := store.AllTransactions(); len(txns) != 1 {
		t.Fatalf("duplicate webhook created a transaction: %d", len(txns))
	}
}

func TestCheckoutFlow_CartEditedWhilePaying(t *testing.T) {
	store := memory.New()
	goCourse := store.PutCourse(domain.Course{Key: "go-101", Title: "Go 101", PriceCents: 100})
	sqlCourse := store.PutCourse(domain.Course{Key: "sql-101", Title: "SQL 101", PriceCents: 50})
	router := newFlowRouter(t, store)

	if rec := do(router, http.MethodPost, "/me/cart/lines", `{"courseId":"`+goCourse.ID+`"}`, "student"); rec.Code != http.StatusOK {
		t.Fatalf("add line: %d", rec.Code)
	}
	res := checkoutSession(t, router)
	if rec := do(router, http.MethodPost, "/me/cart/lines", `{"courseId":"`+sqlCourse.ID+`"}`, "student"); rec.Code != http.StatusOK {
		t.Fatalf("add line after checkout: %d", rec.Code)
	}

	if rec := do(router, http.MethodPost, "/webhooks/payment", "paid:"+res.SessionID, ""); rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}

	txns := store.AllTransactions()
	if len(txns) != 1 || txns[0].AmountCents != 100 {
		t.Fatalf("expected one transaction of the charged 100, got %+v", txns)
	}
	rec := do(router, http.MethodGet, "/me/enrollments", "", "student")
	if !strings.Contains(rec.Body.String(), goCourse.ID) || strings.Contains(rec.Body.String(), sqlCourse.ID) {
		t.Fatalf("only the paid course may be enrolled: %s", rec.Body.String())
	}
	rec = do(router, http.MethodGet, "/me/cart", "", "student")
	if !strings.Contains(rec.Body.String(), sqlCourse.ID) {
		t.Fatalf("unpaid course should remain in the fresh cart: %s", rec.Body.String())
	}
}

func TestAuth_ExpiredTokenIsPurged(t *testing.T) {
	store := memory.New()
	router := newFlowRouter(t, store)
	ctx := context.Background()
	if err := store.Tokens().Create(ctx, token.Token{Token: "old", UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("create token: %v", err)
	}

	if rec := do(router, http.MethodGet, "/me/cart", "", "old"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, err := store.Tokens().Get(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired token to be deleted, got %v", err)
	}
	if _, err := store.Tokens().Get(ctx, "student"); err != nil {
		t.Fatalf("live token must survive: %v", err)
	}
}
