package ingress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coursecart/internal/domain"
	"coursecart/internal/payment"
	"coursecart/internal/repository/memory"
	"coursecart/internal/service/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers for one session. Webhook payloads are the literal
// strings "valid", "pending", "bad-sig" or anything else (malformed).
type fakeGateway struct {
	status   payment.Status
	fetchErr error
	metadata domain.SessionMetadata
	extID    string
}

func (f *fakeGateway) CreateSession(context.Context, payment.SessionRequest) (*payment.Session, error) {
	return nil, errors.New("unused")
}

func (f *fakeGateway) FetchSession(_ context.Context, id string) (*payment.SessionStatus, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if id != f.extID {
		return nil, domain.ErrNotFound
	}
	return &payment.SessionStatus{ExternalID: id, Status: f.status, Method: "card", Metadata: f.metadata}, nil
}

func (f *fakeGateway) VerifyWebhook(_ context.Context, payload []byte) (*payment.Event, error) {
	switch string(payload) {
	case "valid":
		return &payment.Event{ExternalID: f.extID, Kind: domain.EventCompleted, ProviderStatus: "settlement", Method: "qris", Metadata: f.metadata}, nil
	case "expired":
		return &payment.Event{ExternalID: f.extID, Kind: domain.EventExpired, ProviderStatus: "expire", Metadata: f.metadata}, nil
	case "pending":
		return &payment.Event{ExternalID: f.extID, ProviderStatus: "pending", Metadata: f.metadata}, nil
	case "bad-sig":
		return nil, domain.ErrInvalidSignature
	}
	return nil, payment.ErrMalformedPayload
}

type fixture struct {
	store *memory.Store
	gw    *fakeGateway
	svc   *Service
	cart  *domain.Cart
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	a := store.PutCourse(domain.Course{Key: "a", Title: "A", PriceCents: 100})
	b := store.PutCourse(domain.Course{Key: "b", Title: "B", PriceCents: 50})
	cart, err := store.Carts().GetOrCreateActive(ctx, "user-1")
	require.NoError(t, err)
	for _, c := range []domain.Course{a, b} {
		_, err := store.Carts().AddLine(ctx, cart.ID, c)
		require.NoError(t, err)
	}

	gw := &fakeGateway{
		status:   payment.StatusPaid,
		extID:    "ext-1",
		metadata: domain.SessionMetadata{UserID: "user-1", CartID: cart.ID},
	}
	proc := settlement.New(store.Transactions(), store.UnitOfWork(), settlement.Config{Currency: "IDR"}, nil, nil)
	return &fixture{
		store: store,
		gw:    gw,
		svc:   New(gw, proc, store.Callbacks(), "midtrans", nil),
		cart:  cart,
	}
}

func TestWebhookAndRedirectSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var webhookOut settlement.Outcome
	var webhookErr error
	var redirect ReturnResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		webhookOut, webhookErr = f.svc.HandleWebhook(ctx, []byte("valid"))
	}()
	go func() {
		defer wg.Done()
		redirect = f.svc.HandleReturn(ctx, "ext-1")
	}()
	wg.Wait()

	require.NoError(t, webhookErr)
	assert.Contains(t, []settlement.Outcome{settlement.Settled, settlement.AlreadySettled}, webhookOut)
	assert.Equal(t, ResultSuccess, redirect)

	txns := f.store.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, int64(150), txns[0].AmountCents)
	enrollments, err := f.store.Enrollments().ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)
	assert.Equal(t, 1, f.store.ActiveCarts("user-1"))

	again, err := f.svc.HandleWebhook(ctx, []byte("valid"))
	require.NoError(t, err)
	assert.Equal(t, settlement.AlreadySettled, again)
	assert.Equal(t, ResultSuccess, f.svc.HandleReturn(ctx, "ext-1"))
	assert.Len(t, f.store.AllTransactions(), 1)
}

func TestWebhook_InvalidSignatureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleWebhook(ctx, []byte("bad-sig"))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Empty(t, f.store.AllTransactions())
	after, _ := f.store.Carts().GetByID(ctx, f.cart.ID)
	assert.True(t, after.Active)
	cbs := f.store.RecordedCallbacks()
	require.Len(t, cbs, 1)
	assert.False(t, cbs[0].SignatureValid)
	assert.Equal(t, "rejected", cbs[0].Outcome)
	assert.Equal(t, "midtrans", cbs[0].Provider)
}

func TestWebhook_MalformedAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleWebhook(ctx, []byte("{"))
	assert.ErrorIs(t, err, payment.ErrMalformedPayload)

	out, err := f.svc.HandleWebhook(ctx, []byte("pending"))
	require.NoError(t, err)
	assert.Equal(t, settlement.Ignored, out)

	out, err = f.svc.HandleWebhook(ctx, []byte("expired"))
	require.NoError(t, err)
	assert.Equal(t, settlement.Ignored, out)

	assert.Empty(t, f.store.AllTransactions())
	cbs := f.store.RecordedCallbacks()
	require.Len(t, cbs, 3)
	assert.Equal(t, "malformed", cbs[0].Outcome)
	assert.Equal(t, "ignored", cbs[1].Outcome)
	assert.True(t, cbs[1].SignatureValid)
}

func TestWebhook_InvalidReference(t *testing.T) {
	f := newFixture(t)
	f.gw.metadata = domain.SessionMetadata{UserID: "user-1", CartID: "missing"}

	_, err := f.svc.HandleWebhook(context.Background(), []byte("valid"))
	assert.ErrorIs(t, err, domain.ErrInvalidReference)
	cbs := f.store.RecordedCallbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, "invalid_reference", cbs[0].Outcome)
}

func TestReturn_Results(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, ResultError, f.svc.HandleReturn(ctx, ""))
	assert.Equal(t, ResultError, f.svc.HandleReturn(ctx, "unknown"))

	for _, st := range []payment.Status{payment.StatusPending, payment.StatusCancelled, payment.StatusExpired, payment.StatusFailed} {
		f.gw.status = st
		assert.Equal(t, ResultCancelled, f.svc.HandleReturn(ctx, "ext-1"), st)
	}
	assert.Empty(t, f.store.AllTransactions())

	f.gw.fetchErr = domain.ErrGatewayUnavailable
	assert.Equal(t, ResultError, f.svc.HandleReturn(ctx, "ext-1"))

	f.gw.fetchErr = nil
	f.gw.status = payment.StatusPaid
	f.gw.metadata.UserID = "someone-else"
	assert.Equal(t, ResultError, f.svc.HandleReturn(ctx, "ext-1"))
	assert.Empty(t, f.store.AllTransactions())
}
