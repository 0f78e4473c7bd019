package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
)

type recordedEvent struct {
	Type  string
	Event domain.OrderEvent
}

type storeState struct {
	orders map[uuid.UUID]domain.Order
	stock  map[string]int
	events []recordedEvent
}

func (s storeState) clone() storeState {
	c := storeState{
		orders: make(map[uuid.UUID]domain.Order, len(s.orders)),
		stock:  make(map[string]int, len(s.stock)),
		events: append([]recordedEvent(nil), s.events...),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	return c
}

// memStore runs transactions one at a time and restores a snapshot when
// the transaction function fails, the way a rolled back SQL transaction
// leaves no trace.
type memStore struct {
	m         sync.Mutex
	state     storeState
	insertErr error
}

func newMemStore(stock map[string]int) *memStore {
	st := storeState{orders: map[uuid.UUID]domain.Order{}, stock: map[string]int{}}
	for k, v := range stock {
		st.stock[k] = v
	}
	return &memStore{state: st}
}

func (s *memStore) InTx(_ context.Context, fn func(tx r.Tx) error) error {
	s.m.Lock()
	defer s.m.Unlock()
	snapshot := s.state.clone()
	tx := &memTx{s: s, savepoints: map[string]storeState{}}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.m.Lock()
	defer s.m.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	return &o, nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return s.List(ctx, domain.OrderFilter{UserID: userID})
}

func (s *memStore) List(_ context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	s.m.Lock()
	defer s.m.Unlock()
	out := []*domain.Order{}
	for _, o := range s.state.orders {
		if f.UserID != "" && o.UserID != f.UserID ||
			f.Status != "" && o.OrderStatus != f.Status ||
			f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus ||
			f.PaymentMethod != "" && o.PaymentMethod != f.PaymentMethod {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) DeleteOrder(_ context.Context, id uuid.UUID) error {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.state.orders[id]; !ok {
		return r.ErrOrderNotFound
	}
	delete(s.state.orders, id)
	return nil
}

func (s *memStore) SetPaymentIntent(_ context.Context, id uuid.UUID, intentID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	o, ok := s.state.orders[id]
	if !ok || o.PaymentStatus != domain.PaymentStatusPending {
		return r.ErrOrderNotFound
	}
	o.PaymentIntentID = intentID
	s.state.orders[id] = o
	return nil
}

func (s *memStore) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	s.m.Lock()
	defer s.m.Unlock()
	var stale []domain.Order
	for _, o := range s.state.orders {
		if o.PaymentMethod == domain.PaymentMethodOnline &&
			o.PaymentStatus == domain.PaymentStatusPending &&
			o.CreatedAt.Before(createdBefore) {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := []uuid.UUID{}
	for i, o := range stale {
		if i == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *memStore) stockOf(id string) int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state.stock[id]
}

func (s *memStore) setStock(id string, qty int) {
	s.m.Lock()
	defer s.m.Unlock()
	s.state.stock[id] = qty
}

func (s *memStore) orderCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.state.orders)
}

func (s *memStore) eventTypes() []string {
	s.m.Lock()
	defer s.m.Unlock()
	out := []string{}
	for _, e := range s.state.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *memStore) lastEvent() recordedEvent {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state.events[len(s.state.events)-1]
}

// memTx is only used while memStore.m is held by InTx.
type memTx struct {
	s          *memStore
	savepoints map[string]storeState
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if t.s.insertErr != nil {
		return t.s.insertErr
	}
	if _, exists := t.s.state.orders[o.ID]; exists {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	t.s.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.s.state.orders[id]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) LockOrderByIntent(_ context.Context, intentID string) (*domain.Order, error) {
	for _, o := range t.s.state.orders {
		if o.PaymentIntentID == intentID {
			o := o
			return &o, nil
		}
	}
	return nil, r.ErrOrderNotFound
}

func (t *memTx) SaveOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.s.state.orders[o.ID]; !ok {
		return r.ErrOrderNotFound
	}
	t.s.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, quantity int) error {
	have, ok := t.s.state.stock[productID]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	if have < quantity {
		return &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: have}
	}
	t.s.state.stock[productID] = have - quantity
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, eventType string, ev domain.OrderEvent) error {
	t.s.state.events = append(t.s.state.events, recordedEvent{Type: eventType, Event: ev})
	return nil
}

func (t *memTx) Savepoint(_ context.Context, name string) error {
	t.savepoints[name] = t.s.state.clone()
	return nil
}

func (t *memTx) RollbackToSavepoint(_ context.Context, name string) error {
	sp, ok := t.savepoints[name]
	if !ok {
		return fmt.Errorf("no savepoint %s", name)
	}
	t.s.state = sp.clone()
	return nil
}

// fakeCatalog serves its own product snapshot, which may be staler than
// the stock counters held by memStore.
type fakeCatalog struct {
	m        sync.Mutex
	products map[string]domain.Product
	lookups  int
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: map[string]domain.Product{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) LookupMany(_ context.Context, ids []string) (map[string]domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.lookups++
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeCarts struct {
	carts map[string]*domain.Cart
}

func (c *fakeCarts) CheckoutCart(_ context.Context, userID string) (*domain.Cart, error) {
	if cart, ok := c.carts[userID]; ok {
		return cart, nil
	}
	return domain.NewCart(userID, 0), nil
}

type intentCall struct {
	Amount   int64
	Currency string
	Key      string
}

type fakeGateway struct {
	m     sync.Mutex
	err   error
	calls []intentCall
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount int64, currency, key string) (domain.PaymentIntent, error) {
	g.m.Lock()
	defer g.m.Unlock()
	g.calls = append(g.calls, intentCall{Amount: amount, Currency: currency, Key: key})
	if g.err != nil {
		return domain.PaymentIntent{}, g.err
	}
	return domain.PaymentIntent{ID: "intent_" + key, Amount: amount, Currency: currency}, nil
}
