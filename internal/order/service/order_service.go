package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
)

type Catalog interface {
	LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type CartReader interface {
	CheckoutCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, idempotencyKey string) (domain.PaymentIntent, error)
}

type Options struct {
	Currency          string
	PendingPaymentTTL time.Duration
	SweepBatchSize    int
}

type OrderService struct {
	repo    r.OrderRepository
	catalog Catalog
	carts   CartReader
	gateway PaymentGateway
	opts    Options
	now     func() time.Time
}

func NewOrderService(repo r.OrderRepository, catalog Catalog, carts CartReader, gateway PaymentGateway, opts Options) *OrderService {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.PendingPaymentTTL <= 0 {
		opts.PendingPaymentTTL = 30 * time.Minute
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 100
	}
	return &OrderService{
		repo:    repo,
		catalog: catalog,
		carts:   carts,
		gateway: gateway,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetForUser returns the order only if userID owns it.
func (s *OrderService) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, r.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) ListMine(ctx context.Context, userID string) ([]*domain.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *OrderService) ListAll(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Invalid("unknown order status %q", filter.Status)
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, domain.Invalid("unknown payment status %q", filter.PaymentStatus)
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return nil, domain.Invalid("unknown payment method %q", filter.PaymentMethod)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.Invalid("limit and offset must not be negative")
	}
	return s.repo.List(ctx, filter)
}

// Delete hard-deletes an order. Stock taken by it stays taken.
func (s *OrderService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

type stockClaim struct {
	productID string
	quantity  int
}

// sortedClaims orders decrements by product id so concurrent transactions
// lock product rows in the same order.
func sortedClaims(o *domain.Order) []stockClaim {
	claims := o.StockClaims()
	out := make([]stockClaim, 0, len(claims))
	for id, q := range claims {
		out = append(out, stockClaim{productID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

func decrementAll(ctx context.Context, tx r.Tx, o *domain.Order) error {
	for _, c := range sortedClaims(o) {
		if err := tx.DecrementStock(ctx, c.productID, c.quantity); err != nil {
			return err
		}
	}
	return nil
}
