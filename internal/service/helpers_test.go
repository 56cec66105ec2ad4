package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"circulation-service/internal/models"
	"circulation-service/internal/store"

	"github.com/stretchr/testify/require"
)

// testEnv wires the engine against an in-memory database and in-process
// fakes for the edges (events, cache, mail).
type testEnv struct {
	store        *store.Store
	locks        *LockTable
	events       *publisherStub
	cache        *cacheStub
	loans        *LoanService
	reservations *ReservationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	locks := NewLockTable()
	events := &publisherStub{}
	cache := &cacheStub{values: make(map[int64]int)}

	reservations := NewReservationService(st, locks, events)
	loans := NewLoanService(st, locks, reservations, events, cache, 14, 2)

	return &testEnv{
		store:        st,
		locks:        locks,
		events:       events,
		cache:        cache,
		loans:        loans,
		reservations: reservations,
	}
}

func (e *testEnv) seedUser(t *testing.T, email, name string) int64 {
	t.Helper()

	user := &models.User{
		Email:     email,
		FullName:  name,
		Role:      models.RoleMember,
		CreatedAt: time.Now(),
	}
	require.NoError(t, e.store.InsertUser(context.Background(), user))
	return user.ID
}

func (e *testEnv) seedBook(t *testing.T, title string, copies int) int64 {
	t.Helper()

	now := time.Now()
	book := &models.Book{
		Title:           title,
		Author:          "Test Author",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, e.store.InsertBook(context.Background(), book))
	return book.ID
}

func (e *testEnv) availableCopies(t *testing.T, bookID int64) int {
	t.Helper()

	book, err := e.store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}

// publisherStub records published event types in order
type publisherStub struct {
	mu     sync.Mutex
	events []string
}

func (p *publisherStub) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *publisherStub) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func (p *publisherStub) count(eventType string) int {
	n := 0
	for _, e := range p.published() {
		if e == eventType {
			n++
		}
	}
	return n
}

func (p *publisherStub) PublishLoanIssued(_ context.Context, e *models.LoanIssuedEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishLoanReturned(_ context.Context, e *models.LoanReturnedEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishLoanRenewed(_ context.Context, e *models.LoanRenewedEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishLoanOverdue(_ context.Context, e *models.LoanOverdueEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishReservationCreated(_ context.Context, e *models.ReservationCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishReservationFulfilled(_ context.Context, e *models.ReservationFulfilledEvent) error {
	return p.record(e.EventType)
}

func (p *publisherStub) PublishReservationCancelled(_ context.Context, e *models.ReservationCancelledEvent) error {
	return p.record(e.EventType)
}

// cacheStub records availability writes
type cacheStub struct {
	mu     sync.Mutex
	values map[int64]int
}

func (c *cacheStub) SetAvailability(_ context.Context, bookID int64, available int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[bookID] = available
	return nil
}

func (c *cacheStub) get(bookID int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[bookID]
	return v, ok
}

// sentNotice is one delivery the senderStub observed
type sentNotice struct {
	Kind      string
	To        string
	BookTitle string
	DueDate   string
}

// senderStub records sends and fails delivery for addresses in failTo
type senderStub struct {
	mu     sync.Mutex
	sent   []sentNotice
	failTo map[string]bool
}

func newSenderStub() *senderStub {
	return &senderStub{failTo: make(map[string]bool)}
}

func (s *senderStub) failFor(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTo[email] = true
}

func (s *senderStub) deliver(kind, to, bookTitle, dueDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[to] {
		return fmt.Errorf("smtp: delivery to %s refused", to)
	}
	s.sent = append(s.sent, sentNotice{Kind: kind, To: to, BookTitle: bookTitle, DueDate: dueDate})
	return nil
}

func (s *senderStub) SendDueReminder(_ context.Context, to, _, bookTitle, dueDate string) error {
	return s.deliver(models.NotificationTypeDueSoon, to, bookTitle, dueDate)
}

func (s *senderStub) SendOverdueNotice(_ context.Context, to, _, bookTitle, dueDate string) error {
	return s.deliver(models.NotificationTypeOverdue, to, bookTitle, dueDate)
}

func (s *senderStub) notices() []sentNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentNotice, len(s.sent))
	copy(out, s.sent)
	return out
}
