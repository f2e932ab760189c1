package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"coursecart/internal/domain"
	"coursecart/internal/metrics"
	"coursecart/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memory.Store
	proc  *Processor
	m     *metrics.Metrics
	a, b  domain.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	f := &fixture{
		store: store,
		m:     m,
		proc:  New(store.Transactions(), store.UnitOfWork(), Config{Currency: "IDR", OutboxTopic: "course-purchases"}, m, nil),
		a:     store.PutCourse(domain.Course{Key: "a", Title: "A", PriceCents: 100}),
		b:     store.PutCourse(domain.Course{Key: "b", Title: "B", PriceCents: 50}),
	}
	return f
}

func (f *fixture) cartWith(t *testing.T, userID string, courses ...domain.Course) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := f.store.Carts().GetOrCreateActive(ctx, userID)
	require.NoError(t, err)
	for _, c := range courses {
		_, err := f.store.Carts().AddLine(ctx, cart.ID, c)
		require.NoError(t, err)
	}
	return cart
}

func completed(extID string, cart *domain.Cart) Request {
	return Request{
		ExternalID: extID,
		Metadata:   domain.SessionMetadata{UserID: cart.UserID, CartID: cart.ID},
		Kind:       domain.EventCompleted,
		Method:     "qris",
	}
}

func (f *fixture) enrolled(t *testing.T, userID, courseID string) bool {
	t.Helper()
	ok, err := f.store.Enrollments().IsEnrolled(context.Background(), userID, courseID)
	require.NoError(t, err)
	return ok
}

func TestSettle_CompletedRecordsEnrollsAndRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a, f.b)

	out, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)

	txns := f.store.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, int64(150), txns[0].AmountCents)
	assert.Equal(t, domain.TransactionCompleted, txns[0].Status)
	assert.Equal(t, "qris", txns[0].Method)
	assert.Equal(t, "IDR", txns[0].Currency)

	assert.True(t, f.enrolled(t, "user-1", f.a.ID))
	assert.True(t, f.enrolled(t, "user-1", f.b.ID))

	old, err := f.store.Carts().GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, 1, f.store.ActiveCarts("user-1"))
	fresh, err := f.store.Carts().GetOrCreateActive(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, cart.ID, fresh.ID)
	assert.Empty(t, fresh.Lines)

	msgs := f.store.OutboxMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventCoursePurchased, msgs[0].EventType)
	assert.Equal(t, "course-purchases", msgs[0].Topic)
	var ev PurchasedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, int64(150), ev.AmountCents)
	assert.ElementsMatch(t, []string{f.a.ID, f.b.ID}, ev.CourseIDs)
	assert.Equal(t, msgs[0].EventID, ev.EventID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Settlements.WithLabelValues("completed", "settled")))
}

func TestSettle_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)

	for i, want := range []Outcome{Settled, AlreadySettled, AlreadySettled} {
		out, err := f.proc.Settle(ctx, completed("ext-1", cart))
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, want, out, "call %d", i)
	}
	assert.Len(t, f.store.AllTransactions(), 1)
	assert.Len(t, f.store.OutboxMessages(), 1)
	assert.Equal(t, 1, f.store.ActiveCarts("user-1"))
}

func TestSettle_ConcurrentConfirmations(t *testing.T) {
	f := newFixture(t)
	cart := f.cartWith(t, "user-1", f.a, f.b)

	const workers = 16
	outcomes := make([]Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.proc.Settle(context.Background(), completed("ext-1", cart))
		}(i)
	}
	wg.Wait()

	settled := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i] == Settled {
			settled++
		} else {
			assert.Equal(t, AlreadySettled, outcomes[i])
		}
	}
	assert.Equal(t, 1, settled)
	assert.Len(t, f.store.AllTransactions(), 1)
	assert.Len(t, f.store.OutboxMessages(), 1)
}

// blindLedger never sees existing rows, forcing every call past the
// pre-check so the unique constraint is what decides.
type blindLedger struct{ *memory.TransactionRepo }

func (blindLedger) GetByExternalID(context.Context, string) (*domain.Transaction, error) {
	return nil, domain.ErrNotFound
}

func TestSettle_UniqueConstraintIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	proc := New(blindLedger{f.store.Transactions()}, f.store.UnitOfWork(), Config{Currency: "IDR"}, nil, nil)
	cart := f.cartWith(t, "user-1", f.a)

	out, err := proc.Settle(context.Background(), completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)

	out, err = proc.Settle(context.Background(), completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, AlreadySettled, out)
	assert.Len(t, f.store.AllTransactions(), 1)
	assert.Len(t, f.store.OutboxMessages(), 1)
}

func TestSettle_AtomicOnEnrollmentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a, f.b)
	boom := errors.New("enrollment store down")
	f.store.AttachErr = func(_, courseID string) error {
		if courseID == f.b.ID {
			return boom
		}
		return nil
	}

	_, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.ErrorIs(t, err, boom)

	assert.Empty(t, f.store.AllTransactions())
	assert.False(t, f.enrolled(t, "user-1", f.a.ID))
	assert.Empty(t, f.store.OutboxMessages())
	after, err := f.store.Carts().GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.True(t, after.Active)
	assert.Len(t, after.Lines, 2)

	f.store.AttachErr = nil
	out, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)
}

func TestSettle_UsesPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	cart := f.cartWith(t, "user-1", f.a)
	f.store.SetPrice(f.a.ID, 5000)

	_, err := f.proc.Settle(context.Background(), completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.store.AllTransactions()[0].AmountCents)
}

func TestSettle_ExpiredAndFailedNeverEnroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)

	for _, kind := range []domain.EventKind{domain.EventExpired, domain.EventFailed} {
		req := completed("ext-1", cart)
		req.Kind = kind
		out, err := f.proc.Settle(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, Ignored, out)
	}
	assert.Empty(t, f.store.AllTransactions())
	assert.False(t, f.enrolled(t, "user-1", f.a.ID))
	after, _ := f.store.Carts().GetByID(ctx, cart.ID)
	assert.True(t, after.Active)
}

func TestSettle_FailedMarksNonCompletedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)
	_, err := f.store.Transactions().Insert(ctx, domain.Transaction{
		UserID: "user-1", CartID: cart.ID, AmountCents: 100, ExternalID: "ext-1", Status: domain.TransactionExpired,
	})
	require.NoError(t, err)

	req := completed("ext-1", cart)
	req.Kind = domain.EventFailed
	out, err := f.proc.Settle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, MarkedFailed, out)

	got, _ := f.store.Transactions().GetByExternalID(ctx, "ext-1")
	assert.Equal(t, domain.TransactionFailed, got.Status)

	out, err = f.proc.Settle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, AlreadySettled, out)
}

func TestSettle_CompletedIsNeverDowngraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)
	_, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)

	for _, kind := range []domain.EventKind{domain.EventFailed, domain.EventExpired} {
		req := completed("ext-1", cart)
		req.Kind = kind
		out, err := f.proc.Settle(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, AlreadySettled, out)
	}
	got, _ := f.store.Transactions().GetByExternalID(ctx, "ext-1")
	assert.Equal(t, domain.TransactionCompleted, got.Status)
	assert.True(t, f.enrolled(t, "user-1", f.a.ID))
}

func TestSettle_InvalidReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)
	empty := f.cartWith(t, "user-2")

	cases := map[string]Request{
		"missing external id": {Kind: domain.EventCompleted, Metadata: domain.SessionMetadata{UserID: "user-1", CartID: cart.ID}},
		"missing metadata":    {ExternalID: "ext-1", Kind: domain.EventCompleted},
		"unknown cart":        {ExternalID: "ext-2", Kind: domain.EventCompleted, Metadata: domain.SessionMetadata{UserID: "user-1", CartID: "nope"}},
		"foreign cart":        {ExternalID: "ext-3", Kind: domain.EventCompleted, Metadata: domain.SessionMetadata{UserID: "user-2", CartID: cart.ID}},
		"empty cart":          {ExternalID: "ext-4", Kind: domain.EventCompleted, Metadata: domain.SessionMetadata{UserID: "user-2", CartID: empty.ID}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.proc.Settle(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidReference)
		})
	}
	assert.Empty(t, f.store.AllTransactions())
	assert.Equal(t, 5.0, testutil.ToFloat64(f.m.Settlements.WithLabelValues("completed", "invalid_reference")))
}

func TestSettle_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Settle(context.Background(), Request{ExternalID: "x", Kind: "refunded"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidReference)
}

func TestSettle_SecondPaidSessionForInactiveCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a, f.b)

	out, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)
	fresh, err := f.store.Carts().GetOrCreateActive(ctx, "user-1")
	require.NoError(t, err)

	out, err = f.proc.Settle(ctx, completed("ext-2", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)

	assert.Len(t, f.store.AllTransactions(), 2)
	assert.Equal(t, 1, f.store.ActiveCarts("user-1"))
	still, err := f.store.Carts().GetOrCreateActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, still.ID, "fresh cart must not be rotated again")
	enrollments, _ := f.store.Enrollments().ListByUser(ctx, "user-1")
	assert.Len(t, enrollments, 2)
}

// openSession stores the checkout snapshot the way checkout.Initiate does.
func (f *fixture) openSession(t *testing.T, extID string, cart *domain.Cart) {
	t.Helper()
	ctx := context.Background()
	current, err := f.store.Carts().GetByID(ctx, cart.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Sessions().Create(ctx, domain.CheckoutSession{
		ExternalID:  extID,
		UserID:      current.UserID,
		CartID:      current.ID,
		AmountCents: current.TotalCents(),
		Lines:       current.Lines,
	}))
}

func TestSettle_CartGrewAfterCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a)
	f.openSession(t, "ext-1", cart)
	_, err := f.store.Carts().AddLine(ctx, cart.ID, f.b)
	require.NoError(t, err)

	out, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)

	txns := f.store.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, int64(100), txns[0].AmountCents, "ledger must match what the gateway charged")
	assert.True(t, f.enrolled(t, "user-1", f.a.ID))
	assert.False(t, f.enrolled(t, "user-1", f.b.ID), "unpaid course must not be granted")

	fresh, err := f.store.Carts().GetOrCreateActive(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, cart.ID, fresh.ID)
	require.Len(t, fresh.Lines, 1, "unpaid line moves to the fresh cart")
	assert.Equal(t, f.b.ID, fresh.Lines[0].CourseID)
	assert.Equal(t, int64(50), fresh.Lines[0].PriceCents)

	var ev PurchasedEvent
	require.NoError(t, json.Unmarshal(f.store.OutboxMessages()[0].Payload, &ev))
	assert.Equal(t, []string{f.a.ID}, ev.CourseIDs)
	assert.Equal(t, int64(100), ev.AmountCents)
}

func TestSettle_CartClearedAfterCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.cartWith(t, "user-1", f.a, f.b)
	f.openSession(t, "ext-1", cart)
	require.NoError(t, f.store.Carts().Clear(ctx, cart.ID))

	out, err := f.proc.Settle(ctx, completed("ext-1", cart))
	require.NoError(t, err)
	assert.Equal(t, Settled, out)

	txns := f.store.AllTransactions()
	require.Len(t, txns, 1)
	assert.Equal(t, int64(150), txns[0].AmountCents)
	assert.True(t, f.enrolled(t, "user-1", f.a.ID))
	assert.True(t, f.enrolled(t, "user-1", f.b.ID))
	assert.Equal(t, 1, f.store.ActiveCarts("user-1"))
}

func TestSettle_RecordsGatewayChargedAmount(t *testing.T) {
	f := newFixture(t)
	cart := f.cartWith(t, "user-1", f.a)
	f.openSession(t, "ext-1", cart)

	req := completed("ext-1", cart)
	req.AmountCents = 120
	_, err := f.proc.Settle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(120), f.store.AllTransactions()[0].AmountCents)
}

func TestSettle_SessionForAnotherCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.cartWith(t, "user-1", f.a)
	other := f.cartWith(t, "user-2", f.b)
	f.openSession(t, "ext-1", other)

	_, err := f.proc.Settle(ctx, completed("ext-1", mine))
	assert.ErrorIs(t, err, domain.ErrInvalidReference)
	assert.Empty(t, f.store.AllTransactions())
}
