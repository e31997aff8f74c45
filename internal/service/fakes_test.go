package service

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cafe-orders/internal/domain"
	"cafe-orders/internal/repo"
)

// memStore backs every fake repository. WithinTx serializes transactions and
// restores a snapshot when fn fails, so rollback behaves like Postgres.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders    map[uuid.UUID]domain.Order
	logs      map[uuid.UUID][]domain.StatusChange
	events    []domain.ChangeEvent
	published map[int64]bool
	limits    map[string]domain.RateLimitEntry
	quotes    map[string]domain.DeliveryQuote
	seq       int64

	failItems     error
	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[uuid.UUID]domain.Order),
		logs:      make(map[uuid.UUID][]domain.StatusChange),
		published: make(map[int64]bool),
		limits:    make(map[string]domain.RateLimitEntry),
		quotes:    make(map[string]domain.DeliveryQuote),
	}
}

type memSnapshot struct {
	orders map[uuid.UUID]domain.Order
	logs   map[uuid.UUID][]domain.StatusChange
	events []domain.ChangeEvent
	limits map[string]domain.RateLimitEntry
	seq    int64
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := memSnapshot{
		orders: maps.Clone(m.orders),
		logs:   maps.Clone(m.logs),
		events: slices.Clone(m.events),
		limits: maps.Clone(m.limits),
		seq:    m.seq,
	}
	m.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		m.mu.Lock()
		m.orders, m.logs, m.events, m.limits, m.seq = snap.orders, snap.logs, snap.events, snap.limits, snap.seq
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) eventKinds() []domain.ChangeKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []domain.ChangeKind
	for _, ev := range m.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type fakeOrderRepo struct{ m *memStore }

func (r fakeOrderRepo) FindById(_ context.Context, _ *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (r fakeOrderRepo) FindForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.FindById(ctx, tx, id)
}

func (r fakeOrderRepo) List(_ context.Context, f repo.ListFilter) ([]domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.Order
	for _, o := range r.m.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber > out[j].OrderNumber })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r fakeOrderRepo) AllocateNumber(_ context.Context, _ *sql.Tx, day time.Time) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	prefix := domain.OrderNumberPrefix(day)
	count := 0
	for _, o := range r.m.orders {
		if strings.HasPrefix(o.OrderNumber, prefix) {
			count++
		}
	}
	return domain.NextOrderNumber(day, count, func(candidate string) (bool, error) {
		for _, o := range r.m.orders {
			if o.OrderNumber == candidate {
				return true, nil
			}
		}
		return false, nil
	})
}

func (r fakeOrderRepo) CreateOrder(_ context.Context, _ *sql.Tx, o *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.conflictsLeft > 0 {
		r.m.conflictsLeft--
		return fmt.Errorf("%w: order number %s already taken", domain.ErrPersistenceConflict, o.OrderNumber)
	}
	stored := *o
	stored.Items = nil
	r.m.orders[o.ID] = stored
	return nil
}

func (r fakeOrderRepo) CreateItems(_ context.Context, _ *sql.Tx, items []domain.OrderItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failItems != nil {
		return r.m.failItems
	}
	for _, it := range items {
		o := r.m.orders[it.OrderID]
		o.Items = append(slices.Clone(o.Items), it)
		r.m.orders[it.OrderID] = o
	}
	return nil
}

func (r fakeOrderRepo) UpdateOrderStatus(_ context.Context, _ *sql.Tx, o *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	cur.Status, cur.CompletedAt, cur.UpdatedAt = o.Status, o.CompletedAt, o.UpdatedAt
	r.m.orders[o.ID] = cur
	return nil
}

func (r fakeOrderRepo) UpdateBooking(_ context.Context, _ *sql.Tx, o *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	cur.Courier, cur.UpdatedAt = o.Courier, o.UpdatedAt
	r.m.orders[o.ID] = cur
	return nil
}

func (r fakeOrderRepo) AppendStatusLog(_ context.Context, _ *sql.Tx, id uuid.UUID, c domain.StatusChange) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.logs[id] = append(slices.Clone(r.m.logs[id]), c)
	return nil
}

func (r fakeOrderRepo) StatusHistory(_ context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return slices.Clone(r.m.logs[id]), nil
}

type fakeRateLimitRepo struct{ m *memStore }

func limitKey(identity string, kind domain.ActionKind) string { return identity + "|" + string(kind) }

func (r fakeRateLimitRepo) Find(_ context.Context, _ *sql.Tx, identity string, kind domain.ActionKind) (*domain.RateLimitEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.limits[limitKey(identity, kind)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r fakeRateLimitRepo) Upsert(_ context.Context, _ *sql.Tx, e domain.RateLimitEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.limits[limitKey(e.Identity, e.ActionKind)] = e
	return nil
}

func (r fakeRateLimitRepo) Acquire(_ context.Context, _ *sql.Tx, e domain.RateLimitEntry) (domain.RateLimitDecision, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := limitKey(e.Identity, e.ActionKind)
	var current *domain.RateLimitEntry
	if cur, ok := r.m.limits[key]; ok {
		current = &cur
	}
	d := domain.EvaluateRateLimit(current, e.ActionAt)
	if d.Allowed {
		r.m.limits[key] = e
	}
	return d, nil
}

func (r fakeRateLimitRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for k, e := range r.m.limits {
		if !e.ExpiresAt.After(before) {
			delete(r.m.limits, k)
			n++
		}
	}
	return n, nil
}

type fakeQuoteRepo struct{ m *memStore }

func (r fakeQuoteRepo) Save(_ context.Context, q domain.DeliveryQuote, _ time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.quotes[q.QuotationID] = q
	return nil
}

func (r fakeQuoteRepo) Find(_ context.Context, _ *sql.Tx, quotationID string) (*domain.DeliveryQuote, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	q, ok := r.m.quotes[quotationID]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (r fakeQuoteRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, q := range r.m.quotes {
		if !q.ExpiresAt.After(before) {
			delete(r.m.quotes, id)
			n++
		}
	}
	return n, nil
}

type fakeEventRepo struct{ m *memStore }

func (r fakeEventRepo) Append(_ context.Context, _ *sql.Tx, ev domain.ChangeEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.seq++
	ev.Seq = r.m.seq
	r.m.events = append(r.m.events, ev)
	return nil
}

func (r fakeEventRepo) FindUnpublished(_ context.Context, limit int) ([]domain.ChangeEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.ChangeEvent
	for _, ev := range r.m.events {
		if !r.m.published[ev.Seq] && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r fakeEventRepo) MarkPublished(_ context.Context, seqs []int64, _ time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range seqs {
		r.m.published[s] = true
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCourier struct {
	mu    sync.Mutex
	quote func(ctx context.Context, dropoff domain.Location) (*domain.DeliveryQuote, error)
	book  func(ctx context.Context, req domain.BookingRequest) (*domain.DeliveryBooking, error)
	calls []domain.BookingRequest
}

func (c *fakeCourier) Quote(ctx context.Context, dropoff domain.Location) (*domain.DeliveryQuote, error) {
	return c.quote(ctx, dropoff)
}

func (c *fakeCourier) Book(ctx context.Context, req domain.BookingRequest) (*domain.DeliveryBooking, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return c.book(ctx, req)
}

func (c *fakeCourier) bookCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type countingNudger struct {
	mu sync.Mutex
	n  int
}

func (c *countingNudger) Nudge() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNudger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
