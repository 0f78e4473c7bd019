package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

func (m *PaymentMethod) UnmarshalText(text []byte) error {
	*m = PaymentMethod(normalizeEnum(string(text)))
	return nil
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

func (s *PaymentStatus) UnmarshalText(text []byte) error {
	*s = PaymentStatus(normalizeEnum(string(text)))
	return nil
}

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	*s = ParseOrderStatus(string(text))
	return nil
}

// ParseOrderStatus accepts any letter case, so "Delivered" is DELIVERED.
// Validity is checked separately with Valid.
func ParseOrderStatus(s string) OrderStatus {
	return OrderStatus(normalizeEnum(s))
}

func ParsePaymentStatus(s string) PaymentStatus {
	return PaymentStatus(normalizeEnum(s))
}

func ParsePaymentMethod(s string) PaymentMethod {
	return PaymentMethod(normalizeEnum(s))
}

func normalizeEnum(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an admin may move an order from s to next.
// Statuses only move forward.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// OrderLineItem is the priced snapshot written at creation. It is never updated.
type OrderLineItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	ImageURL       string `json:"image_url,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
	Variant        string `json:"variant,omitempty"`
	IsSubscription bool   `json:"is_subscription"`
}

type ShippingAddress struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone"`
}

func (a ShippingAddress) Validate() error {
	switch {
	case a.Name == "":
		return Invalid("shipping address name is required")
	case a.Street == "":
		return Invalid("shipping address street is required")
	case a.City == "":
		return Invalid("shipping address city is required")
	case a.Pincode == "":
		return Invalid("shipping address pincode is required")
	case a.Phone == "":
		return Invalid("shipping address phone is required")
	}
	return nil
}

// DeliverySlot is a free-form window label such as "MORNING" or "6-8 AM".
type DeliverySlot string

type SubscriptionConfig struct {
	Plan      string    `json:"plan"`
	StartDate time.Time `json:"start_date"`
}

type Order struct {
	ID                 uuid.UUID           `json:"id"`
	UserID             string              `json:"user_id"`
	LineItems          []OrderLineItem     `json:"line_items"`
	ItemsPrice         int64               `json:"items_price"`
	TotalPrice         int64               `json:"total_price"`
	Currency           string              `json:"currency"`
	PaymentMethod      PaymentMethod       `json:"payment_method"`
	PaymentStatus      PaymentStatus       `json:"payment_status"`
	OrderStatus        OrderStatus         `json:"order_status"`
	ShippingAddress    ShippingAddress     `json:"shipping_address"`
	DeliverySlot       DeliverySlot        `json:"delivery_slot"`
	SubscriptionConfig *SubscriptionConfig `json:"subscription_config,omitempty"`
	PaymentIntentID    string              `json:"payment_intent_id,omitempty"`
	PaymentID          string              `json:"payment_id,omitempty"`
	FromCart           bool                `json:"from_cart"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
}

// StockClaims sums line quantities per product. Two variants of one product
// draw from the same stock counter.
func (o *Order) StockClaims() map[string]int {
	claims := make(map[string]int, len(o.LineItems))
	for _, li := range o.LineItems {
		claims[li.ProductID] += li.Quantity
	}
	return claims
}

// MarkDelivered applies the delivery rule: payment is collected on delivery,
// so the order is Paid afterwards whatever it was before.
func (o *Order) MarkDelivered(at time.Time) {
	o.OrderStatus = OrderStatusDelivered
	o.PaymentStatus = PaymentStatusPaid
	o.DeliveredAt = &at
	o.UpdatedAt = at
}

// OrderFilter narrows the admin listing. Zero values match everything.
type OrderFilter struct {
	UserID        string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Limit         int
	Offset        int
}
