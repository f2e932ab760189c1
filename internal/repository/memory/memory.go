// Package memory is an in-process implementation of every repository and of
// the unit of work. It backs service and handler tests; a failing unit of
// work restores the state it started from.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/repository/callback"
	"coursecart/internal/repository/cart"
	"coursecart/internal/repository/course"
	"coursecart/internal/repository/enrollment"
	"coursecart/internal/repository/outbox"
	"coursecart/internal/repository/session"
	"coursecart/internal/repository/token"
	"coursecart/internal/repository/transaction"
	"coursecart/internal/repository/uow"
	"github.com/google/uuid"
)

var (
	_ cart.TxRepository      = (*CartRepo)(nil)
	_ course.Repository      = (*CourseRepo)(nil)
	_ enrollment.Repository  = (*EnrollmentRepo)(nil)
	_ transaction.Repository = (*TransactionRepo)(nil)
	_ session.Repository     = (*SessionRepo)(nil)
	_ callback.Repository    = (*CallbackRepo)(nil)
	_ outbox.Repository      = (*OutboxRepo)(nil)
	_ token.Repository       = (*TokenRepo)(nil)
)

type state struct {
	courses      map[string]domain.Course
	carts        map[string]domain.Cart
	transactions map[string]domain.Transaction
	enrollments  map[enrollmentKey]time.Time
	sessions     map[string]domain.CheckoutSession
	callbacks    []callback.Callback
	outbox       []outbox.Message
	sent         map[int64]bool
	tokens       map[string]token.Token
}

type enrollmentKey struct{ userID, courseID string }

func (st state) clone() state {
	out := state{
		courses:      make(map[string]domain.Course, len(st.courses)),
		carts:        make(map[string]domain.Cart, len(st.carts)),
		transactions: make(map[string]domain.Transaction, len(st.transactions)),
		enrollments:  make(map[enrollmentKey]time.Time, len(st.enrollments)),
		sessions:     make(map[string]domain.CheckoutSession, len(st.sessions)),
		callbacks:    append([]callback.Callback(nil), st.callbacks...),
		outbox:       append([]outbox.Message(nil), st.outbox...),
		sent:         make(map[int64]bool, len(st.sent)),
		tokens:       make(map[string]token.Token, len(st.tokens)),
	}
	for k, v := range st.courses {
		out.courses[k] = v
	}
	for k, v := range st.carts {
		v.Lines = append([]domain.CartLine(nil), v.Lines...)
		out.carts[k] = v
	}
	for k, v := range st.transactions {
		out.transactions[k] = v
	}
	for k, v := range st.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	for k, v := range st.sent {
		out.sent[k] = v
	}
	for k, v := range st.tokens {
		out.tokens[k] = v
	}
	return out
}

// Store holds all tables. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   state
	seq  int64

	// AttachErr, when set, is consulted before every enrollment attach.
	AttachErr func(userID, courseID string) error
}

func New() *Store {
	return &Store{st: state{
		courses:      map[string]domain.Course{},
		carts:        map[string]domain.Cart{},
		transactions: map[string]domain.Transaction{},
		enrollments:  map[enrollmentKey]time.Time{},
		sessions:     map[string]domain.CheckoutSession{},
		sent:         map[int64]bool{},
		tokens:       map[string]token.Token{},
	}}
}

func (s *Store) tick() time.Time {
	s.seq++
	return time.Unix(1_700_000_000, 0).UTC().Add(time.Duration(s.seq) * time.Millisecond)
}

// PutCourse inserts a catalog row, assigning an id when missing.
func (s *Store) PutCourse(c domain.Course) domain.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Currency == "" {
		c.Currency = "IDR"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.tick()
	}
	s.st.courses[c.ID] = c
	return c
}

// SetPrice changes the catalog price of an existing course.
func (s *Store) SetPrice(courseID string, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.st.courses[courseID]
	c.PriceCents = priceCents
	s.st.courses[courseID] = c
}

// AllTransactions returns every ledger row ordered by creation.
func (s *Store) AllTransactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.st.transactions))
	for _, t := range s.st.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCarts counts the active carts of a user.
func (s *Store) ActiveCarts(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.st.carts {
		if c.UserID == userID && c.Active {
			n++
		}
	}
	return n
}

func (s *Store) OutboxMessages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.st.outbox...)
}

func (s *Store) RecordedCallbacks() []callback.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callback.Callback(nil), s.st.callbacks...)
}

func (s *Store) Carts() *CartRepo               { return &CartRepo{s: s} }
func (s *Store) Courses() *CourseRepo           { return &CourseRepo{s: s} }
func (s *Store) Enrollments() *EnrollmentRepo   { return &EnrollmentRepo{s: s} }
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s: s} }
func (s *Store) Sessions() *SessionRepo         { return &SessionRepo{s: s} }
func (s *Store) Callbacks() *CallbackRepo       { return &CallbackRepo{s: s} }
func (s *Store) Outbox() *OutboxRepo            { return &OutboxRepo{s: s} }
func (s *Store) Tokens() *TokenRepo             { return &TokenRepo{s: s} }
func (s *Store) UnitOfWork() uow.UnitOfWork     { return &unit{s: s} }
func (s *Store) TxCarts() cart.TxRepository     { return &CartRepo{s: s} }

type unit struct{ s *Store }

// Do serializes units of work, standing in for the row lock taken by
// GetForUpdate.
func (u *unit) Do(ctx context.Context, fn func(ctx context.Context, r uow.Repos) error) error {
	u.s.txMu.Lock()
	defer u.s.txMu.Unlock()

	u.s.mu.Lock()
	snapshot := u.s.st.clone()
	u.s.mu.Unlock()

	err := fn(ctx, uow.Repos{
		Carts:        u.s.TxCarts(),
		Transactions: u.s.Transactions(),
		Enrollments:  u.s.Enrollments(),
		Outbox:       u.s.Outbox(),
		Sessions:     u.s.Sessions(),
	})
	if err != nil {
		u.s.mu.Lock()
		u.s.st = snapshot
		u.s.mu.Unlock()
		return err
	}
	return nil
}

type CartRepo struct{ s *Store }

func (r *CartRepo) GetOrCreateActive(_ context.Context, userID string) (*domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.st.carts {
		if c.UserID == userID && c.Active {
			return copyCart(c), nil
		}
	}
	c := domain.Cart{ID: uuid.NewString(), UserID: userID, Active: true, CreatedAt: r.s.tick(), Lines: []domain.CartLine{}}
	r.s.st.carts[c.ID] = c
	return copyCart(c), nil
}

func (r *CartRepo) CreateFreshActive(ctx context.Context, userID string) (*domain.Cart, error) {
	return r.GetOrCreateActive(ctx, userID)
}

func (r *CartRepo) GetByID(_ context.Context, id string) (*domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCart(c), nil
}

func (r *CartRepo) GetForUpdate(ctx context.Context, id string) (*domain.Cart, error) {
	return r.GetByID(ctx, id)
}

func (r *CartRepo) AddLine(_ context.Context, cartID string, course domain.Course) (*domain.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[cartID]
	if !ok || !c.Active {
		return nil, domain.ErrNotFound
	}
	if _, ok := r.s.st.courses[course.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	for _, l := range c.Lines {
		if l.CourseID == course.ID {
			return nil, domain.ErrDuplicateItem
		}
	}
	line := domain.CartLine{
		ID:         uuid.NewString(),
		CartID:     cartID,
		CourseID:   course.ID,
		Title:      course.Title,
		PriceCents: course.PriceCents,
		CreatedAt:  r.s.tick(),
	}
	c.Lines = append(append([]domain.CartLine(nil), c.Lines...), line)
	r.s.st.carts[cartID] = c
	return &line, nil
}

func (r *CartRepo) RemoveLine(_ context.Context, cartID, courseID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	lines := make([]domain.CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.CourseID != courseID {
			lines = append(lines, l)
		}
	}
	if len(lines) == len(c.Lines) {
		return domain.ErrNotFound
	}
	c.Lines = lines
	r.s.st.carts[cartID] = c
	return nil
}

func (r *CartRepo) Clear(_ context.Context, cartID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[cartID]
	if !ok {
		return nil
	}
	c.Lines = []domain.CartLine{}
	r.s.st.carts[cartID] = c
	return nil
}

func (r *CartRepo) Deactivate(_ context.Context, cartID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[cartID]
	if !ok || !c.Active {
		return false, nil
	}
	now := r.s.tick()
	c.Active = false
	c.DeactivatedAt = &now
	r.s.st.carts[cartID] = c
	return true, nil
}

func copyCart(c domain.Cart) *domain.Cart {
	c.Lines = append([]domain.CartLine{}, c.Lines...)
	return &c
}

type CourseRepo struct{ s *Store }

func (r *CourseRepo) List(_ context.Context) ([]domain.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Course, 0, len(r.s.st.courses))
	for _, c := range r.s.st.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r *CourseRepo) GetByID(_ context.Context, id string) (*domain.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.courses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *CourseRepo) Upsert(_ context.Context, in domain.Course) (*domain.Course, error) {
	r.s.mu.Lock()
	for _, c := range r.s.st.courses {
		if c.Key == in.Key {
			in.ID = c.ID
			in.CreatedAt = c.CreatedAt
		}
	}
	r.s.mu.Unlock()
	out := r.s.PutCourse(in)
	return &out, nil
}

type EnrollmentRepo struct{ s *Store }

func (r *EnrollmentRepo) Attach(_ context.Context, userID, courseID string) error {
	if r.s.AttachErr != nil {
		if err := r.s.AttachErr(userID, courseID); err != nil {
			return fmt.Errorf("attach course %s: %w", courseID, err)
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.courses[courseID]; !ok {
		return fmt.Errorf("attach course %s: %w", courseID, domain.ErrNotFound)
	}
	key := enrollmentKey{userID, courseID}
	if _, ok := r.s.st.enrollments[key]; !ok {
		r.s.st.enrollments[key] = r.s.tick()
	}
	return nil
}

func (r *EnrollmentRepo) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.enrollments[enrollmentKey{userID, courseID}]
	return ok, nil
}

func (r *EnrollmentRepo) ListByUser(_ context.Context, userID string) ([]domain.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Enrollment{}
	for k, at := range r.s.st.enrollments {
		if k.userID == userID {
			out = append(out, domain.Enrollment{UserID: k.userID, CourseID: k.courseID, EnrolledAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Insert(_ context.Context, in domain.Transaction) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.transactions[in.ExternalID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	in.ID = uuid.NewString()
	in.CreatedAt = r.s.tick()
	in.UpdatedAt = in.CreatedAt
	r.s.st.transactions[in.ExternalID] = in
	return &in, nil
}

func (r *TransactionRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.transactions[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *TransactionRepo) UpdateStatus(_ context.Context, externalID string, status domain.TransactionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.transactions[externalID]
	if !ok || t.Status == domain.TransactionCompleted {
		return domain.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = r.s.tick()
	r.s.st.transactions[externalID] = t
	return nil
}

func (r *TransactionRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Transaction{}
	for _, t := range r.s.st.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type SessionRepo struct{ s *Store }

func (r *SessionRepo) Create(_ context.Context, in domain.CheckoutSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.sessions[in.ExternalID]; ok {
		return domain.ErrAlreadyExists
	}
	in.CreatedAt = r.s.tick()
	in.Lines = append([]domain.CartLine(nil), in.Lines...)
	r.s.st.sessions[in.ExternalID] = in
	return nil
}

func (r *SessionRepo) Get(_ context.Context, externalID string) (*domain.CheckoutSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.st.sessions[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	sess.Lines = append([]domain.CartLine(nil), sess.Lines...)
	return &sess, nil
}

type CallbackRepo struct{ s *Store }

func (r *CallbackRepo) Record(_ context.Context, cb callback.Callback) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cb.ID = int64(len(r.s.st.callbacks) + 1)
	cb.CreatedAt = r.s.tick()
	r.s.st.callbacks = append(r.s.st.callbacks, cb)
	return nil
}

type OutboxRepo struct{ s *Store }

func (r *OutboxRepo) Enqueue(_ context.Context, msg outbox.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	for _, m := range r.s.st.outbox {
		if m.EventID == msg.EventID {
			return domain.ErrAlreadyExists
		}
	}
	msg.ID = int64(len(r.s.st.outbox) + 1)
	msg.CreatedAt = r.s.tick()
	r.s.st.outbox = append(r.s.st.outbox, msg)
	return nil
}

func (r *OutboxRepo) FetchPending(_ context.Context, limit int) ([]outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []outbox.Message
	for _, m := range r.s.st.outbox {
		if r.s.st.sent[m.ID] {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepo) MarkSent(_ context.Context, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		r.s.st.sent[id] = true
	}
	return nil
}

type TokenRepo struct{ s *Store }

func (r *TokenRepo) Create(_ context.Context, t token.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.tokens[t.Token]; ok {
		return domain.ErrAlreadyExists
	}
	t.CreatedAt = r.s.tick()
	r.s.st.tokens[t.Token] = t
	return nil
}

func (r *TokenRepo) Get(_ context.Context, t string) (*token.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out, ok := r.s.st.tokens[t]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &out, nil
}

func (r *TokenRepo) Delete(_ context.Context, t string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.tokens[t]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.st.tokens, t)
	return nil
}
