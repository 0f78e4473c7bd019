package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	r "github.com/fjod/freshmilk/internal/order/repository"
	"github.com/fjod/freshmilk/internal/pricing"
)

type ItemRequest struct {
	ProductID      string
	Quantity       int
	Variant        string
	IsSubscription bool
}

type PlaceOrderRequest struct {
	UserID             string
	Items              []ItemRequest
	FromCart           bool
	ShippingAddress    domain.ShippingAddress
	DeliverySlot       domain.DeliverySlot
	PaymentMethod      domain.PaymentMethod
	SubscriptionConfig *domain.SubscriptionConfig
}

type PlaceOrderResult struct {
	Order  *domain.Order
	Intent *domain.PaymentIntent
}

// PlaceOrder prices and validates the items against one catalog snapshot and
// records the order. COD orders take stock in the same transaction; online
// orders take none until payment is confirmed.
//
// When the gateway fails after an online order was stored, the result still
// carries the order and the error wraps domain.ErrPaymentGateway.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	items := req.Items
	if req.FromCart {
		var err error
		if items, err = s.itemsFromCart(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	order, err := s.buildOrder(ctx, req, items)
	if err != nil {
		return nil, err
	}

	switch req.PaymentMethod {
	case domain.PaymentMethodCOD:
		if err := s.placeCOD(ctx, order); err != nil {
			return nil, err
		}
		return &PlaceOrderResult{Order: order}, nil
	default:
		return s.placeOnline(ctx, order)
	}
}

func (s *OrderService) validate(req PlaceOrderRequest) error {
	if req.UserID == "" {
		return domain.Invalid("user is required")
	}
	if !req.PaymentMethod.Valid() {
		return domain.Invalid("unknown payment method %q", req.PaymentMethod)
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return err
	}
	if req.FromCart {
		if len(req.Items) > 0 {
			return domain.Invalid("items and from_cart are mutually exclusive")
		}
		return nil
	}
	if len(req.Items) == 0 {
		return domain.Invalid("order items required")
	}
	for i, it := range req.Items {
		if it.ProductID == "" {
			return domain.Invalid("item %d: product_id is required", i)
		}
		if it.Quantity <= 0 || it.Quantity > domain.MaxLineQuantity {
			return domain.Invalid("item %d: quantity must be between 1 and %d, got %d", i, domain.MaxLineQuantity, it.Quantity)
		}
	}
	return nil
}

func (s *OrderService) itemsFromCart(ctx context.Context, userID string) ([]ItemRequest, error) {
	cart, err := s.carts.CheckoutCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, domain.Invalid("cart is empty")
	}
	items := make([]ItemRequest, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, ItemRequest{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			Variant:        line.Variant,
			IsSubscription: line.IsSubscription,
		})
	}
	return items, nil
}

// buildOrder resolves every product in one catalog read and snapshots the
// line prices from that read.
func (s *OrderService) buildOrder(ctx context.Context, req PlaceOrderRequest, items []ItemRequest) (*domain.Order, error) {
	ids := make([]string, 0, len(items))
	requested := make(map[string]int, len(items))
	for _, it := range items {
		if _, seen := requested[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		requested[it.ProductID] += it.Quantity
	}

	products, err := s.catalog.LookupMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup products: %w", err)
	}

	lines := make([]domain.OrderLineItem, 0, len(items))
	priced := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, &domain.ProductNotFoundError{ProductID: it.ProductID}
		}
		if want := requested[it.ProductID]; want > p.Stock {
			return nil, &domain.InsufficientStockError{ProductID: p.ID, Requested: want, Available: p.Stock}
		}

		price := p.PriceFor(it.Variant)
		lines = append(lines, domain.OrderLineItem{
			ProductID:      p.ID,
			Name:           p.Name,
			ImageURL:       p.ImageURL,
			Quantity:       it.Quantity,
			UnitPrice:      price,
			Variant:        it.Variant,
			IsSubscription: it.IsSubscription,
		})
		priced = append(priced, pricing.Line{Quantity: it.Quantity, UnitPrice: price})
	}

	totals := pricing.ComputeTotals(priced, 0)
	now := s.now()
	return &domain.Order{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		LineItems:          lines,
		ItemsPrice:         totals.Subtotal,
		TotalPrice:         totals.GrandTotal,
		Currency:           s.opts.Currency,
		PaymentMethod:      req.PaymentMethod,
		PaymentStatus:      domain.PaymentStatusPending,
		OrderStatus:        domain.OrderStatusProcessing,
		ShippingAddress:    req.ShippingAddress,
		DeliverySlot:       req.DeliverySlot,
		SubscriptionConfig: req.SubscriptionConfig,
		FromCart:           req.FromCart,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *OrderService) placeCOD(ctx context.Context, order *domain.Order) error {
	err := s.repo.InTx(ctx, func(tx r.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := decrementAll(ctx, tx, order); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.EventOrderPlaced, domain.NewOrderEvent(order, order.CreatedAt))
	})
	if err == nil {
		slog.InfoContext(ctx, "cod order placed", "order_id", order.ID, "user_id", order.UserID, "total", order.TotalPrice)
		return nil
	}

	// the guard lost a race after the pre-check passed
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		slog.InfoContext(ctx, "cod order rejected at commit", "user_id", order.UserID, "product_id", stockErr.ProductID)
		return stockErr
	}
	var missing *domain.ProductNotFoundError
	if errors.As(err, &missing) {
		return missing
	}

	slog.ErrorContext(ctx, "cod order transaction aborted", "user_id", order.UserID, "error", err)
	return fmt.Errorf("%w: %v", domain.ErrOrderPlacementFailed, err)
}

func (s *OrderService) placeOnline(ctx context.Context, order *domain.Order) (*PlaceOrderResult, error) {
	err := s.repo.InTx(ctx, func(tx r.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.EventOrderPlaced, domain.NewOrderEvent(order, order.CreatedAt))
	})
	if err != nil {
		slog.ErrorContext(ctx, "online order insert failed", "user_id", order.UserID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrOrderPlacementFailed, err)
	}

	result := &PlaceOrderResult{Order: order}
	intent, err := s.requestIntent(ctx, order)
	if err != nil {
		return result, err
	}
	result.Intent = &intent
	return result, nil
}

// requestIntent asks the gateway for an intent keyed by the order id, so a
// repeated request for the same order yields the same intent.
func (s *OrderService) requestIntent(ctx context.Context, order *domain.Order) (domain.PaymentIntent, error) {
	intent, err := s.gateway.CreateIntent(ctx, order.ItemsPrice, order.Currency, order.ID.String())
	if err != nil {
		slog.WarnContext(ctx, "payment intent creation failed", "order_id", order.ID, "error", err)
		if errors.Is(err, domain.ErrPaymentGateway) {
			return domain.PaymentIntent{}, err
		}
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrPaymentGateway, err)
	}

	if err := s.repo.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("record payment intent for %s: %w", order.ID, err)
	}
	order.PaymentIntentID = intent.ID
	slog.InfoContext(ctx, "payment intent created", "order_id", order.ID, "intent_id", intent.ID, "amount", intent.Amount)
	return intent, nil
}
