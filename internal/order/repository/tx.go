package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	catalog "github.com/fjod/freshmilk/internal/catalog/repository"
	"github.com/fjod/freshmilk/internal/domain"
)

const selectOrder = `SELECT id, user_id, line_items, items_price, total_price, currency,
	payment_method, payment_status, order_status, shipping_address, delivery_slot,
	subscription_config, payment_intent_id, payment_id, from_cart,
	created_at, updated_at, delivered_at
	FROM orders`

var savepointName = regexp.MustCompile(`^[a-z_]+$`)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) InsertOrder(ctx context.Context, o *domain.Order) error {
	lineItems, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}
	var subscription []byte
	if o.SubscriptionConfig != nil {
		if subscription, err = json.Marshal(o.SubscriptionConfig); err != nil {
			return fmt.Errorf("failed to marshal subscription config: %w", err)
		}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, line_items, items_price, total_price, currency,
			payment_method, payment_status, order_status, shipping_address, delivery_slot,
			subscription_config, payment_intent_id, payment_id, from_cart, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.ID, o.UserID, lineItems, o.ItemsPrice, o.TotalPrice, o.Currency,
		o.PaymentMethod, o.PaymentStatus, o.OrderStatus, address, string(o.DeliverySlot),
		nullJSON(subscription), nullString(o.PaymentIntentID), nullString(o.PaymentID),
		o.FromCart, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *txStore) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return t.lock(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, id)
}

func (t *txStore) LockOrderByIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	return t.lock(ctx, selectOrder+` WHERE payment_intent_id = $1 FOR UPDATE`, intentID)
}

func (t *txStore) lock(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

// SaveOrder writes the mutable state of a locked order. Line items and
// prices are fixed at insert and never rewritten.
func (t *txStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	var deliveredAt sql.NullTime
	if o.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *o.DeliveredAt, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET payment_status = $2, order_status = $3, payment_intent_id = $4,
			payment_id = $5, delivered_at = $6, updated_at = $7
		WHERE id = $1`,
		o.ID, o.PaymentStatus, o.OrderStatus, nullString(o.PaymentIntentID),
		nullString(o.PaymentID), deliveredAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update order: %w", err)
	} else if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *txStore) DecrementStock(ctx context.Context, productID string, quantity int) error {
	return catalog.DecrementStock(ctx, t.tx, productID, quantity)
}

// AppendEvent stores an event in the outbox; the relay publishes it after commit.
func (t *txStore) AppendEvent(ctx context.Context, eventType string, event domain.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New(), event.OrderID.String(), eventType, data)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (t *txStore) Savepoint(ctx context.Context, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

func (t *txStore) RollbackToSavepoint(ctx context.Context, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var (
		o            domain.Order
		lineItems    []byte
		address      []byte
		subscription []byte
		slot         string
		intentID     sql.NullString
		paymentID    sql.NullString
		deliveredAt  sql.NullTime
	)
	err := s.Scan(&o.ID, &o.UserID, &lineItems, &o.ItemsPrice, &o.TotalPrice, &o.Currency,
		&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus, &address, &slot,
		&subscription, &intentID, &paymentID, &o.FromCart,
		&o.CreatedAt, &o.UpdatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lineItems, &o.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if len(subscription) > 0 {
		o.SubscriptionConfig = &domain.SubscriptionConfig{}
		if err := json.Unmarshal(subscription, o.SubscriptionConfig); err != nil {
			return nil, fmt.Errorf("unmarshal subscription config: %w", err)
		}
	}
	o.DeliverySlot = domain.DeliverySlot(slot)
	o.PaymentIntentID = intentID.String
	o.PaymentID = paymentID.String
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
