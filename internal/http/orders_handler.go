package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
	ordersvc "github.com/fjod/freshmilk/internal/order/service"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req ordersvc.PlaceOrderRequest) (*ordersvc.PlaceOrderResult, error)
	ListMine(ctx context.Context, userID string) ([]*domain.Order, error)
	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*domain.Order, error)
	RetryPaymentIntent(ctx context.Context, userID string, orderID uuid.UUID) (*domain.PaymentIntent, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type OrderItemDTO struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Variant        string `json:"variant,omitempty"`
	IsSubscription bool   `json:"is_subscription,omitempty"`
}

type PlaceOrderRequestDTO struct {
	Items              []OrderItemDTO             `json:"items,omitempty"`
	FromCart           bool                       `json:"from_cart,omitempty"`
	ShippingAddress    domain.ShippingAddress     `json:"shipping_address"`
	DeliverySlot       string                     `json:"delivery_slot"`
	PaymentMethod      domain.PaymentMethod       `json:"payment_method"`
	SubscriptionConfig *domain.SubscriptionConfig `json:"subscription_config,omitempty"`
}

type PlaceOrderResponseDTO struct {
	Order         *domain.Order         `json:"order"`
	PaymentIntent *domain.PaymentIntent `json:"payment_intent,omitempty"`
}

// POST /api/v1/orders
func (h *OrdersHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PlaceOrderRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	items := make([]ordersvc.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ordersvc.ItemRequest{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			Variant:        it.Variant,
			IsSubscription: it.IsSubscription,
		})
	}

	res, err := h.orders.PlaceOrder(ctx, ordersvc.PlaceOrderRequest{
		UserID:             getUserIDFromContext(ctx),
		Items:              items,
		FromCart:           req.FromCart,
		ShippingAddress:    req.ShippingAddress,
		DeliverySlot:       domain.DeliverySlot(req.DeliverySlot),
		PaymentMethod:      req.PaymentMethod,
		SubscriptionConfig: req.SubscriptionConfig,
	})
	if err != nil {
		// the order exists but has no intent yet; the client retries the intent only
		if errors.Is(err, domain.ErrPaymentGateway) && res != nil && res.Order != nil {
			respondJSON(w, http.StatusBadGateway, ErrorResponse{
				Error:   err.Error(),
				Code:    "payment_gateway_error",
				Details: res.Order.ID.String(),
			})
			return
		}
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, PlaceOrderResponseDTO{Order: res.Order, PaymentIntent: res.Intent})
}

// GET /api/v1/orders/mine
func (h *OrdersHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListMine(ctx, getUserIDFromContext(ctx))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetForUser(ctx, getUserIDFromContext(ctx), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{order_id}/payment-intent
func (h *OrdersHandler) RetryPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	intent, err := h.orders.RetryPaymentIntent(ctx, getUserIDFromContext(ctx), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, intent)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
