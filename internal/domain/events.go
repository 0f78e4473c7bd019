package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order event types written to the outbox and published on the order events topic.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderOversold      = "order.oversold"
)

// OrderEvent is the JSON payload of every order event.
type OrderEvent struct {
	OrderID       uuid.UUID     `json:"order_id"`
	UserID        string        `json:"user_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	TotalPrice    int64         `json:"total_price"`
	Currency      string        `json:"currency"`
	FromCart      bool          `json:"from_cart"`
	PaymentID     string        `json:"payment_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func NewOrderEvent(o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		TotalPrice:    o.TotalPrice,
		Currency:      o.Currency,
		FromCart:      o.FromCart,
		PaymentID:     o.PaymentID,
		OccurredAt:    at,
	}
}

// OutboxEvent is a stored, not yet published, order event.
type OutboxEvent struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}
